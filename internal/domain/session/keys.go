package session

import "github.com/okian/faultline/internal/domain/signature"

// StartKey maps a session id to the id of its start event.
func StartKey(projectID, sessionID string) string {
	return projectID + ":start:" + sessionID
}

// IdentityKey maps a user identity to its active automatic session id.
func IdentityKey(projectID, identity string) string {
	return projectID + ":identity:" + signature.SHA1(identity)
}
