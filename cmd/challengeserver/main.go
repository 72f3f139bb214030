// challengeserver is the HTTP daemon serving the challenge protocol's
// session, credential, verification and manager endpoints.
package main

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/synnergy-labs/challenge-gate/bytecode"
	"github.com/synnergy-labs/challenge-gate/challenge"
	"github.com/synnergy-labs/challenge-gate/challengeserver/config"
	"github.com/synnergy-labs/challenge-gate/challengeserver/controllers"
	"github.com/synnergy-labs/challenge-gate/challengeserver/middleware"
	"github.com/synnergy-labs/challenge-gate/challengeserver/routes"
	"github.com/synnergy-labs/challenge-gate/challengeserver/services"
	"github.com/synnergy-labs/challenge-gate/kv"
	"github.com/synnergy-labs/challenge-gate/kv/memkv"
	"github.com/synnergy-labs/challenge-gate/kv/rediskv"
	"github.com/synnergy-labs/challenge-gate/risk"
	"github.com/synnergy-labs/challenge-gate/wasmhost"
)

var logger = logrus.StandardLogger()

func main() {
	if err := config.Load(); err != nil {
		logger.Fatal(err)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})
	if config.AppConfig.RiskDebug {
		logger.SetLevel(logrus.DebugLevel)
	}

	store := openStore(config.AppConfig.KVURL)

	manifest, err := bytecode.LoadManifestFile(config.AppConfig.ManifestPath)
	if err != nil {
		logger.Fatalf("load manifest: %v", err)
	}
	wasmBytes, err := os.ReadFile(config.AppConfig.WASMPath)
	if err != nil {
		logger.Fatalf("load wasm: %v", err)
	}
	// Refuse to serve a manifest and module from different builds.
	module, err := wasmhost.NewHost().Load(wasmBytes)
	if err != nil {
		logger.Fatalf("load wasm module: %v", err)
	}
	if err := module.VerifyAgainstManifest(manifest); err != nil {
		logger.Fatalf("wasm/manifest mismatch: %v", err)
	}

	signer, err := challenge.NewSigner([]byte(config.AppConfig.VerifySecret))
	if err != nil {
		logger.Fatalf("build signer: %v", err)
	}

	managerSvc := services.NewManagerService(store)
	challengeSvc := services.NewChallengeService(manifest, wasmBytes, store, signer)
	challengeSvc.Manager = managerSvc

	challengeCtrl := controllers.NewChallengeController(challengeSvc)
	managerCtrl := controllers.NewManagerController(managerSvc)

	var asnTable *risk.ASNTable
	if t, err := risk.LoadASNTable(config.AppConfig.ASNTablePath); err == nil {
		asnTable = t
	} else {
		logger.WithError(err).Warn("no ASN table loaded, ASN scoring disabled")
	}
	limiter := risk.NewRateLimiter(risk.DefaultTiers)
	scorer := risk.NewScorer(risk.DefaultWeights, asnTable, store)
	gate := risk.NewGate(limiter, scorer, store, logger)

	r := mux.NewRouter()
	routes.Register(r, challengeCtrl, managerCtrl, gate.Middleware, middleware.Recorder(managerSvc))

	logger.Infof("challengeserver listening on :%s", config.AppConfig.Port)
	if err := http.ListenAndServe(":"+config.AppConfig.Port, r); err != nil {
		logger.Fatal(err)
	}
}

// openStore binds to Redis when KV_URL points at one, falling back to
// the in-memory store (e.g. for local development without a Redis
// instance running).
func openStore(url string) kv.Store {
	store, err := rediskv.New(url)
	if err != nil {
		logger.WithError(err).Warn("falling back to in-memory KV store")
		return memkv.New()
	}
	return store
}
