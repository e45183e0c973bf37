package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Container IDs and compose project names; anything else never reaches the
// docker CLI.
var dockerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

func queryTail(r *http.Request) int {
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.docker.ListContainers(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		slog.Error("list containers", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, containers)
}

func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !dockerNamePattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid container id")
		return
	}
	logs, err := s.docker.ContainerLogs(r.Context(), id, queryTail(r))
	if err != nil {
		slog.Error("container logs", "error", err, "container_id", id)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ContainerLogs{ContainerID: id, Logs: logs})
}

// handleContainerLogsStream follows the container's log as server-sent
// events until the client disconnects.
func (s *Server) handleContainerLogsStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !dockerNamePattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid container id")
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	pipe, err := s.docker.StreamContainerLogs(r.Context(), id, queryTail(r))
	if err != nil {
		slog.Error("stream container logs", "error", err, "container_id", id)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer pipe.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	sc := bufio.NewScanner(pipe)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		fmt.Fprintf(w, "data: %s\n\n", sc.Text())
		fl.Flush()
	}
}

// containerAction wraps restart/stop/start of a single container.
func (s *Server) containerAction(label string, action func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !dockerNamePattern.MatchString(id) {
			writeError(w, http.StatusBadRequest, "invalid container id")
			return
		}
		if err := action(r.Context(), id); err != nil {
			slog.Error(label, "error", err, "container_id", id)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		slog.Info(label, "container_id", id)
		writeOK(w)
	}
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.docker.ListProjects(r.Context())
	if err != nil {
		slog.Error("list projects", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// projectAction wraps restart/stop/start of a whole compose project.
func (s *Server) projectAction(label string, action func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !dockerNamePattern.MatchString(name) {
			writeError(w, http.StatusBadRequest, "invalid project name")
			return
		}
		if err := action(r.Context(), name); err != nil {
			slog.Error(label, "error", err, "project", name)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		slog.Info(label, "project", name)
		writeOK(w)
	}
}
