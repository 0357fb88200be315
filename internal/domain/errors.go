package domain

import apperrors "github.com/mindlink-dev/mindlink/pkg/errors"

func errInvalidConfig(message string) *apperrors.AppError {
	return apperrors.New(apperrors.KindConfiguration, message).WithRecoverable(true)
}
