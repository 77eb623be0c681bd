package ssh

// PasswordAuthenticator is the platform capability this server consults
// for the "password" userauth method (RFC 4252 §8). Authenticate is
// called once per USERAUTH_REQUEST carrying method "password"; returning
// false yields USERAUTH_FAILURE, true moves the connection to
// Authenticated.
type PasswordAuthenticator interface {
	Authenticate(username, password string) bool
}

// maxAuthAttempts bounds how many failed USERAUTH_REQUESTs a connection
// gets before the transport gives up and lets the caller RST it, the way
// a real sshd disconnects after too many failed attempts rather than
// leaving the socket open indefinitely.
const maxAuthAttempts = 6
