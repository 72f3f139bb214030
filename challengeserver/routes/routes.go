// Package routes registers challengeserver's HTTP surface.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/synnergy-labs/challenge-gate/challengeserver/controllers"
	"github.com/synnergy-labs/challenge-gate/challengeserver/middleware"
)

// Register wires the service's HTTP operations onto r. recorder runs
// outside the risk gate so blocked requests appear in the manager log
// with their final status.
func Register(r *mux.Router, cc *controllers.ChallengeController, mc *controllers.ManagerController, riskGate, recorder func(http.Handler) http.Handler) {
	r.Use(middleware.Logger)
	if recorder != nil {
		r.Use(recorder)
	}
	if riskGate != nil {
		r.Use(riskGate)
	}

	r.HandleFunc("/challenge", cc.StartSession).Methods(http.MethodGet)
	r.HandleFunc("/challenge", cc.IssueCredential).Methods(http.MethodPost)
	r.HandleFunc("/challenge/verify", cc.Verify).Methods(http.MethodPost)
	r.HandleFunc("/manager/requests", mc.Requests).Methods(http.MethodGet)
	r.HandleFunc("/manager/fingerprints", mc.Fingerprints).Methods(http.MethodGet)
}
