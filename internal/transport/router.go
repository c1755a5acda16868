package transport

import "net/http"

type Handler interface {
	uploadFile(w http.ResponseWriter, r *http.Request)
	workspaceRoot(w http.ResponseWriter, r *http.Request)
	restoreFile(w http.ResponseWriter, r *http.Request)
	dispatchTask(w http.ResponseWriter, r *http.Request)
	taskByID(w http.ResponseWriter, r *http.Request)
	download(w http.ResponseWriter, r *http.Request)
	history(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h Handler
}

func NewRouter(h Handler) *router {
	return &router{h: h}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/workspace/file", r.h.uploadFile)
	mux.HandleFunc("/workspace/restore", r.h.restoreFile)
	mux.HandleFunc("/workspace", r.h.workspaceRoot)
	mux.HandleFunc("/tasks", r.h.dispatchTask)
	mux.HandleFunc("/tasks/", r.h.taskByID)
	mux.HandleFunc("/download/", r.h.download)
	mux.HandleFunc("/history/", r.h.history)

	return mux
}
