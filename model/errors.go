package model

import "github.com/ulifeai/agentb/errs"

func errInvalidMessage(format string, args ...any) error {
	return errs.New(errs.KindValidation, format, args...)
}
