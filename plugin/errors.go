package plugin

import (
	apperrors "github.com/leeforge/pluginhost/errors"
)

var (
	// ErrPluginNotFound means no configured directory holds an entry file for the class.
	ErrPluginNotFound = apperrors.New(apperrors.ErrorTypeNotFound, "plugin not found").
		WithCode(apperrors.CodePluginNotFound)

	// ErrMalformedPlugin means an entry file exists but the class is not registered after import.
	ErrMalformedPlugin = apperrors.New(apperrors.ErrorTypeMalformed, "plugin class is missing").
		WithCode(apperrors.CodeMalformedPlugin)

	// ErrRecordNotFound is returned by a Store when no record has the requested name.
	ErrRecordNotFound = apperrors.New(apperrors.ErrorTypeNotFound, "plugin record not found").
		WithCode(apperrors.CodeRecordNotFound)

	// ErrHandlerNotFound is returned by HandleEvent for an unknown handler name.
	ErrHandlerNotFound = apperrors.New(apperrors.ErrorTypeNotFound, "event handler not found").
		WithCode(apperrors.CodeHandlerNotFound)

	// ErrStorageNotFound is returned when no storage backend is registered under a name.
	ErrStorageNotFound = apperrors.New(apperrors.ErrorTypeNotFound, "storage backend not found").
		WithCode(apperrors.CodeStorageNotFound)

	// ErrDescriptorMissing is returned by a Source when a directory has no descriptor file.
	ErrDescriptorMissing = apperrors.New(apperrors.ErrorTypeInvalidConfig, "plugin descriptor not found").
		WithCode(apperrors.CodeDescriptorMissing)
)
