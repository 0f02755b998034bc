package server

import (
	"net/http"
	"time"

	"github.com/n0madic/go-aiforwarder/internal/codec"
	"github.com/n0madic/go-aiforwarder/internal/types"
)

// startedAt is reported as the creation time of every listed model.
var startedAt = time.Now().Unix()

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if s.Registry != nil {
		ids = s.Registry.ModelIDs()
	}
	data := make([]types.ModelObject, 0, len(ids))
	for _, id := range ids {
		data = append(data, types.ModelObject{ID: id, Object: "model", Created: startedAt, OwnedBy: "system"})
	}
	codec.WriteJSON(w, http.StatusOK, types.ModelList{Object: "list", Data: data})
}
