// Package server hosts the HTTP listener for the license-permission
// webhook produced by the authorization collaborator.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"penpreserve/models"
	"penpreserve/permission"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// permissionSchema is the versioned contract for the webhook body.
// Only identifying fields and backup_allowed are required; the advisory
// author block is tolerated but never trusted for derived data.
const permissionSchema = `{
    "$schema": "https://json-schema.org/draft/2020-12/schema",
    "type": "object",
    "required": ["event_type", "guild_id", "channel_id", "author_id", "backup_allowed"],
    "properties": {
        "event_type": {"const": "backup_permission_update"},
        "timestamp": {"type": "string"},
        "guild_id": {"type": "string", "pattern": "^[0-9]+$"},
        "channel_id": {"type": "string", "pattern": "^[0-9]+$"},
        "thread_id": {"type": "string", "pattern": "^[0-9]*$"},
        "author_id": {"type": "string", "pattern": "^[0-9]+$"},
        "backup_allowed": {"type": "boolean"},
        "author": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "display_name": {"type": "string"}
            }
        }
    }
}`

const maxBodyBytes = 1 << 20

// Server exposes the webhook and health endpoints.
type Server struct {
	manager *permission.Manager
	httpSrv *http.Server
}

// NewServer builds the webhook server around the permission state
// machine.
func NewServer(manager *permission.Manager) *Server {
	return &Server{manager: manager}
}

func compileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(permissionSchema))
	if err != nil {
		panic(fmt.Errorf("invalid permission schema: %w", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("permission.json", doc); err != nil {
		panic(fmt.Errorf("failed to add permission schema: %w", err))
	}
	schema, err := compiler.Compile("permission.json")
	if err != nil {
		panic(fmt.Errorf("failed to compile permission schema: %w", err))
	}
	return schema
}

var schema = compileSchema()

// Handler returns the HTTP handler, exported for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/license-permission", s.handlePermission)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := jsonschema.UnmarshalJSON(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := schema.Validate(raw); err != nil {
		log.Printf("Webhook payload rejected: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload does not match schema"})
		return
	}

	// Re-encode the validated document into the typed event.
	data, err := json.Marshal(raw)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	var event models.PermissionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	scope := event.Scope()
	log.Printf("Permission webhook for %s: backup_allowed=%v", scope, event.BackupAllowed)

	var outcome permission.Outcome
	if event.BackupAllowed {
		outcome, err = s.manager.Grant(r.Context(), scope, event.Author)
	} else {
		outcome, err = s.manager.Revoke(r.Context(), scope)
	}
	if err != nil {
		log.Printf("Webhook processing failed for %s: %v", scope, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}

	status := http.StatusOK
	if outcome == permission.OutcomeNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"status": string(outcome)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// Start begins serving on host:port. It returns once the listener is
// bound; serving continues in the background until Stop.
func (s *Server) Start(host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		log.Printf("Webhook server listening on %s", addr)
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("Webhook server stopped: %v", err)
		}
	}()
	return nil
}

// Stop shuts the listener down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
