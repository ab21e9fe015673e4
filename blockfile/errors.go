package blockfile

import "errors"

var (
	errOutOfOrder      = errors.New("blockfile: entries must be added in strictly increasing composite-key order")
	errKeyTypeMismatch = errors.New("blockfile: key type does not match writer's declared key type")
	errForkNotAppend   = errors.New("blockfile: a forked writer only accepts keys past the parent's highest covered key")
)
