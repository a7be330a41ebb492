package history

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/oakhurst/inf-report-bot/internal/models"
)

const artifactPageSize = 100

// ArtifactSource hydrates the local history log from a GitHub Actions
// artifact holding a prior run's log. It only reads: uploading a fresh
// artifact after the run is the workflow's job, not this program's.
type ArtifactSource struct {
	log        *Log
	client     *http.Client
	apiBase    string
	repository string
	name       string
	token      string
}

func NewArtifactSource(log *Log, repository, name, token string) *ArtifactSource {
	return &ArtifactSource{
		log:        log,
		client:     &http.Client{Timeout: 60 * time.Second},
		apiBase:    "https://api.github.com",
		repository: repository,
		name:       name,
		token:      token,
	}
}

type artifact struct {
	Name               string `json:"name"`
	Expired            bool   `json:"expired"`
	ArchiveDownloadURL string `json:"archive_download_url"`
}

// Hydrate downloads the newest matching artifact and merges any entries the
// local log is missing. When the local log already has content the remote is
// left untouched: the local file is the source of truth for this host.
func (s *ArtifactSource) Hydrate(ctx context.Context) error {
	if exists, _ := afero.Exists(s.log.fs, s.log.path); exists {
		if info, err := s.log.fs.Stat(s.log.path); err == nil && info.Size() > 0 {
			slog.Info("Local history log present, skipping artifact sync")
			return nil
		}
	}

	if s.token == "" {
		slog.Warn("Artifact log sync enabled but no token available, skipping")
		return nil
	}

	art, err := s.findLatest(ctx)
	if err != nil {
		return err
	}
	if art == nil {
		slog.Info("No matching artifact found for log sync", "name", s.name)
		return nil
	}

	content, err := s.download(ctx, art.ArchiveDownloadURL)
	if err != nil {
		return err
	}
	if len(content) == 0 {
		slog.Warn("Artifact archive was empty, skipping log sync")
		return nil
	}

	logBytes, err := extractLogMember(content, filepath.Base(s.log.path))
	if err != nil {
		return err
	}
	if logBytes == nil {
		slog.Warn("Artifact archive did not contain the history log", "member", filepath.Base(s.log.path))
		return nil
	}

	merged, err := s.merge(logBytes)
	if err != nil {
		return err
	}
	slog.Info("Hydrated history log from artifact", "name", art.Name, "merged", merged)
	return nil
}

func (s *ArtifactSource) findLatest(ctx context.Context) (*artifact, error) {
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/actions/artifacts?per_page=%d&page=%d",
			s.apiBase, s.repository, artifactPageSize, page)
		body, err := s.get(ctx, url, "application/vnd.github+json")
		if err != nil {
			return nil, err
		}

		var payload struct {
			Artifacts []artifact `json:"artifacts"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode artifact listing: %w", err)
		}

		for i := range payload.Artifacts {
			a := &payload.Artifacts[i]
			if a.Name == s.name && !a.Expired {
				return a, nil
			}
		}
		if len(payload.Artifacts) < artifactPageSize {
			return nil, nil
		}
	}
}

func (s *ArtifactSource) download(ctx context.Context, url string) ([]byte, error) {
	return s.get(ctx, url, "")
}

func (s *ArtifactSource) get(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("User-Agent", "inf-report-bot")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("artifact request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artifact request to %s returned %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// extractLogMember pulls the named history file out of the artifact zip.
func extractLogMember(archive []byte, member string) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("artifact archive is not a valid zip: %w", err)
	}
	for _, f := range reader.File {
		if !strings.HasSuffix(f.Name, member) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open archive member %s: %w", f.Name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, nil
}

// merge appends remote entries the local log does not yet have, keyed by
// (date, sku). It returns the number of entries appended.
func (s *ArtifactSource) merge(remote []byte) (int, error) {
	local, err := s.log.Records()
	if err != nil {
		return 0, err
	}
	have := make(map[string]struct{}, len(local))
	for _, rec := range local {
		have[rec.Date+"\x00"+rec.SKU] = struct{}{}
	}

	var missing []models.ItemRecord
	for lineNum, line := range bytes.Split(remote, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec models.ItemRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("Skipping corrupt artifact line", "line", lineNum+1, "error", err)
			continue
		}
		key := rec.Date + "\x00" + rec.SKU
		if _, ok := have[key]; ok {
			continue
		}
		have[key] = struct{}{}
		missing = append(missing, rec)
	}

	if len(missing) == 0 {
		return 0, nil
	}
	if err := s.log.Append(missing); err != nil {
		return 0, err
	}
	return len(missing), nil
}

var (
	_ Source = LocalSource{}
	_ Source = (*ArtifactSource)(nil)
)
