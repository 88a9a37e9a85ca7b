package http

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/remotesigner/slashing-protector/protector"
	"go.uber.org/zap"
)

type networkCtxKey struct{}

type Server struct {
	logger    *zap.Logger
	protector protector.Protector
	router    *chi.Mux
}

func NewServer(logger *zap.Logger, protector protector.Protector) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:    logger,
		protector: protector,
	}
	s.router = chi.NewRouter()
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(middleware.Logger)
	s.router.Use(render.SetContentType(render.ContentTypeJSON))
	s.router.Mount("/debug", middleware.Profiler())
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/validators", s.handleRegisterValidators)
		r.Route("/{network}", func(r chi.Router) {
			r.Use(networkCtx)
			r.Route("/slashable", func(r chi.Router) {
				r.Post("/proposal", s.handleCheckProposal)
				r.Post("/attestation", s.handleCheckAttestation)
			})
			r.Get("/history/{pub_key}", s.handleHistory)
			r.Post("/genesis-root", s.handleSetGenesisRoot)
		})
	})
	return s
}

func (s *Server) handleRegisterValidators(w http.ResponseWriter, r *http.Request) {
	var request registerValidatorsRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pubKeys := make([]phase0.BLSPubKey, len(request.PubKeys))
	for i, pk := range request.PubKeys {
		pubKeys[i] = phase0.BLSPubKey(pk)
	}

	if err := s.protector.RegisterValidators(r.Context(), pubKeys); err != nil {
		s.logger.Error("failed to register validators", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, map[string]int{"registered": len(pubKeys)})
}

func (s *Server) handleCheckProposal(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var request checkProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		render.JSON(w, r, &checkResponse{
			StatusCode: http.StatusBadRequest,
			Error:      err.Error(),
		})
		return
	}

	var resp checkResponse
	defer func() {
		s.logger.Debug("CheckProposal",
			zap.Uint64("slot", uint64(request.Slot)),
			zap.String("pub_key", hex.EncodeToString(request.PubKey[:])),
			zap.String("signing_root", hex.EncodeToString(request.SigningRoot[:])),
			zap.Any("result", resp.Check),
			zap.String("error", resp.Error),
			zap.Duration("took", time.Since(start)),
		)
	}()

	if request.Slot == 0 {
		render.JSON(w, r, &checkResponse{
			StatusCode: http.StatusBadRequest,
			Error:      "can not propose at genesis slot",
		})
		return
	}

	var err error
	resp.Check, err = s.protector.CheckProposal(
		r.Context(),
		getNetwork(r.Context()),
		phase0.BLSPubKey(request.PubKey),
		phase0.Root(request.SigningRoot),
		request.Slot,
	)
	if err != nil {
		resp.StatusCode = http.StatusInternalServerError
		resp.Error = err.Error()
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleCheckAttestation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var request checkAttestationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.logger.Error("failed to decode checkAttestationRequest", zap.Error(err))
		render.JSON(w, r, &checkResponse{
			StatusCode: http.StatusBadRequest,
			Error:      err.Error(),
		})
		return
	}

	var resp checkResponse
	defer func() {
		s.logger.Debug("CheckAttestation",
			zap.String("pub_key", hex.EncodeToString(request.PubKey[:])),
			zap.String("signing_root", hex.EncodeToString(request.SigningRoot[:])),
			zap.Any("data", request.Data),
			zap.Any("result", resp.Check),
			zap.String("error", resp.Error),
			zap.Duration("took", time.Since(start)),
		)
	}()

	var err error
	resp.Check, err = s.protector.CheckAttestation(
		r.Context(),
		getNetwork(r.Context()),
		phase0.BLSPubKey(request.PubKey),
		phase0.Root(request.SigningRoot),
		&request.Data,
	)
	if err != nil {
		s.logger.Error(
			"failed at CheckAttestation",
			zap.Any("attestation", request),
			zap.Error(err),
		)
		resp.StatusCode = http.StatusInternalServerError
		resp.Error = err.Error()
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var pubKey phase0.BLSPubKey
	b, err := hex.DecodeString(strings.TrimPrefix(chi.URLParam(r, "pub_key"), "0x"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	copy(pubKey[:], b)

	history, err := s.protector.History(r.Context(), getNetwork(r.Context()), pubKey)
	if err != nil {
		s.logger.Error("failed to get history", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type proposal struct {
		SigningRoot string      `json:"signing_root"`
		Slot        phase0.Slot `json:"slot"`
	}
	proposals := make([]proposal, len(history.Proposals))
	for i, p := range history.Proposals {
		proposals[i] = proposal{
			SigningRoot: hex.EncodeToString(p.SigningRoot),
			Slot:        p.Slot,
		}
	}

	type attestation struct {
		SigningRoot string       `json:"signing_root"`
		Source      phase0.Epoch `json:"source"`
		Target      phase0.Epoch `json:"target"`
	}
	attestations := make([]attestation, len(history.Attestations))
	for i, a := range history.Attestations {
		attestations[i] = attestation{
			SigningRoot: hex.EncodeToString(a.SigningRoot),
			Source:      a.Source,
			Target:      a.Target,
		}
	}

	render.JSON(w, r, struct {
		Proposals    []proposal    `json:"proposals"`
		Attestations []attestation `json:"attestations"`
	}{
		Proposals:    proposals,
		Attestations: attestations,
	})
}

func (s *Server) handleSetGenesisRoot(w http.ResponseWriter, r *http.Request) {
	var request genesisRootRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.protector.SetGenesisValidatorsRoot(r.Context(), phase0.Root(request.GenesisValidatorsRoot)); err != nil {
		s.logger.Error("failed to set genesis validators root", zap.Error(err))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func networkCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		network := chi.URLParam(r, "network")
		if network == "" {
			http.Error(w, "network parameter is required", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), networkCtxKey{}, network)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getNetwork(ctx context.Context) string {
	network, _ := ctx.Value(networkCtxKey{}).(string)
	return network
}
