package web

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/cycler/internal/core"
	"github.com/JonMunkholm/cycler/internal/store"
)

// IdentifyResponse is returned by GET /api/files/identify.
type IdentifyResponse struct {
	Path       string   `json:"path"`
	Tags       []string `json:"tags"`
	Ingestible bool     `json:"ingestible"`
	Driver     string   `json:"driver,omitempty"`
}

// MetadataResponse is returned by GET /api/files/metadata.
type MetadataResponse struct {
	Path          string         `json:"path"`
	Tags          []string       `json:"tags"`
	Driver        string         `json:"driver"`
	TestStartDate *time.Time     `json:"test_start_date,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	Columns       []string       `json:"columns"`
	Overrides     core.Overrides `json:"overrides,omitempty"`
}

// LabelsResponse is returned by GET /api/files/labels.
type LabelsResponse struct {
	Path   string   `json:"path"`
	Labels []string `json:"labels"`
}

func tagNames(t core.TagSet) []string {
	tags := t.Tags()
	out := make([]string, len(tags))
	for i, tag := range tags {
		out[i] = string(tag)
	}
	return out
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	path, err := s.confinedPath(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	tags, err := core.Identify(path)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := IdentifyResponse{Path: path, Tags: tagNames(tags), Ingestible: !tags.Empty()}
	if !tags.Empty() {
		if d, err := core.DriverForTags(tags); err == nil {
			resp.Driver = d.Name()
		}
	}
	writeJSON(w, resp)
}

// openFile opens the confined path with its overrides.
func (s *Server) openFile(r *http.Request) (*core.InputFile, error) {
	path, err := s.confinedPath(r)
	if err != nil {
		return nil, err
	}
	return core.OpenInputFile(path, s.harvester.Overrides(path), nil)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	f, err := s.openFile(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := MetadataResponse{
		Path:      f.Path(),
		Tags:      tagNames(f.Tags()),
		Driver:    f.Driver().Name(),
		Metadata:  store.DatasetMetadata(f.Metadata()),
		Columns:   f.Catalog().Available(),
		Overrides: s.harvester.Overrides(f.Path()),
	}
	if start, err := f.TestStartDate(); err == nil {
		resp.TestStartDate = &start
	}
	writeJSON(w, resp)
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	f, err := s.openFile(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	labels, err := f.DataLabels()
	if err != nil {
		respondError(w, r, err)
		return
	}
	if labels == nil {
		labels = []string{}
	}
	writeJSON(w, LabelsResponse{Path: f.Path(), Labels: labels})
}

