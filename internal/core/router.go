package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const APIPrefix = "/api/UploadFile/"

// Handler returns an http.Handler serving the file transfer API, the HTML
// pages and the operational endpoints.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("POST "+APIPrefix+"UploadFile", s.handleUploadFile)
	api.HandleFunc("POST "+APIPrefix+"DownloadFileByETag", s.handleDownloadFileByETag)
	api.HandleFunc("POST "+APIPrefix+"UploadFileByTransferUtilityUploadRequest", s.handleTransferUpload)
	api.HandleFunc("POST "+APIPrefix+"DownloadFile", s.handleDownloadFile)
	api.HandleFunc("POST "+APIPrefix+"DeleteFileAsync", s.handleDeleteFile)
	api.HandleFunc("GET "+APIPrefix+"History", s.handleHistory)

	// Browser pages
	api.HandleFunc("GET /{$}", s.handleIndex)
	api.HandleFunc("GET /history", s.handleHistoryPage)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.Config.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Config.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", s.RequireAuthentication(api))

	// Add middleware
	handler := SlashFix(mux)
	handler = LogRequest(handler)
	handler = RequestID(handler)
	handler = Recoverer(handler)
	return handler
}
