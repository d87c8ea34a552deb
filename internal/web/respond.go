package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/render"
)

const maxNameLen = 200

type errResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errResponse{Error: msg})
}

// validName trims name and checks it is present and not too long.
func validName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	return name, name != "" && len(name) <= maxNameLen
}
