package controllers

import (
	"net/http"
	"strconv"

	"github.com/synnergy-labs/challenge-gate/challengeserver/services"
)

// ManagerController serves GET /manager/requests and
// GET /manager/fingerprints.
type ManagerController struct {
	svc *services.ManagerService
}

// NewManagerController builds a ManagerController.
func NewManagerController(svc *services.ManagerService) *ManagerController {
	return &ManagerController{svc: svc}
}

// Requests handles GET /manager/requests?page&limit.
func (c *ManagerController) Requests(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	resp, apiErr := c.svc.Requests(r.Context(), page, limit)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Fingerprints handles GET /manager/fingerprints.
func (c *ManagerController) Fingerprints(w http.ResponseWriter, r *http.Request) {
	records, apiErr := c.svc.Fingerprints(r.Context())
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fingerprints": records})
}
