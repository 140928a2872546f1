package api

import (
	"net/http"

	"github.com/gitpulse/gitpulse/pkg/access"
	"github.com/gitpulse/gitpulse/pkg/httputil"
)

// writeAccessError translates access error kinds to HTTP statuses.
// Unknown principals and resources read as 404 rather than 403 so the
// API does not leak which IDs exist.
func writeAccessError(w http.ResponseWriter, err error) {
	switch access.KindOf(err) {
	case access.KindInsufficientRole, access.KindNoMembership:
		httputil.WriteForbidden(w, err.Error())
	case access.KindUnknownPrincipal, access.KindUnknownResource,
		access.KindNotAMember, access.KindUnknownRecipient, access.KindNotFound:
		httputil.WriteNotFoundError(w, err.Error())
	case access.KindLastAdminViolation, access.KindInvalid:
		httputil.WriteBadRequest(w, err.Error())
	case access.KindDuplicate:
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
