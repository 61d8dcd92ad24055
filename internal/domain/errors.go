package domain

import (
	"errors"
	"strings"
)

var (
	// ErrPermissionDenied reports that the microphone could not be acquired.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrCredentialInvalid reports a missing or rejected API credential.
	ErrCredentialInvalid = errors.New("api credential invalid or missing")
	// ErrConnect reports that the live channel could not be established.
	ErrConnect = errors.New("failed to connect to live session")
	// ErrRemote reports an error raised by the remote model.
	ErrRemote = errors.New("live session error")
	// ErrDecode reports an audio payload that is not valid PCM.
	ErrDecode = errors.New("malformed audio payload")
	// ErrPlayback reports that the output device rejected a buffer.
	ErrPlayback = errors.New("audio playback failed")
)

var credentialIndicators = []string{
	"requested entity was not found",
	"api key not valid",
	"api_key_invalid",
	"permission_denied",
}

// IsCredentialFailure reports whether a remote error message indicates an
// invalid or unauthorised credential.
func IsCredentialFailure(message string) bool {
	lower := strings.ToLower(message)
	for _, indicator := range credentialIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
