// Package jwt issues and verifies the access tokens handed out after a
// protection-cleared login.
package jwt
