package service

import "errors"

var ErrInvalidAuditWindow = errors.New("invalid audit window")
