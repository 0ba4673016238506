package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kozaktomas/pixpursuit/internal/config"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/ingest"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrSharePointDisabled is returned when no SharePoint credentials are configured.
var ErrSharePointDisabled = errors.New("sharepoint is not configured")

var (
	graphBaseURL = "https://graph.microsoft.com/v1.0"
	loginBaseURL = "https://login.microsoftonline.com"
)

// SharePoint reads image files from a document library through Microsoft Graph.
type SharePoint struct {
	api      *http.Client // carries the app token
	download *http.Client // download URLs are pre-authenticated
	graphURL string
	driveID  string
	log      zerolog.Logger
}

// driveItem is the subset of a Graph driveItem the loader reads.
type driveItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl"`
	File        *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
}

type childrenResponse struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// NewSharePoint creates a client authenticated with the client credentials grant.
func NewSharePoint(ctx context.Context, cfg config.SharePointConfig) (*SharePoint, error) {
	if !cfg.Enabled() {
		return nil, ErrSharePointDisabled
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", loginBaseURL, url.PathEscape(cfg.TenantID)),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	api := cc.Client(ctx)
	api.Timeout = 60 * time.Second

	return &SharePoint{
		api:      api,
		download: &http.Client{Timeout: 2 * time.Minute},
		graphURL: graphBaseURL,
		driveID:  cfg.DriveID,
		log:      logging.Component("sharepoint"),
	}, nil
}

// Fetch downloads every image file directly inside folder (a path relative to
// the drive root). Files that are not images or are too large are skipped.
func (sp *SharePoint) Fetch(ctx context.Context, folder string) ([]ingest.Source, error) {
	items, err := sp.listChildren(ctx, folder)
	if err != nil {
		return nil, err
	}

	var out []ingest.Source
	for _, item := range items {
		if item.File == nil || !isImageItem(item) {
			continue
		}
		if item.Size > constants.MaxRemoteImageSize {
			sp.log.Warn().Str("file", item.Name).Int64("size", item.Size).Msg("skipping oversized file")
			continue
		}
		data, err := sp.downloadItem(ctx, item)
		if err != nil {
			sp.log.Warn().Err(err).Str("file", item.Name).Msg("skipping file")
			continue
		}
		out = append(out, ingest.Source{Name: item.Name, Data: data})
	}
	sp.log.Info().Str("folder", folder).Int("items", len(items)).Int("images", len(out)).Msg("folder fetched")
	return out, nil
}

func isImageItem(item driveItem) bool {
	return strings.HasPrefix(item.File.MimeType, "image/") || isImageName(item.Name)
}

func (sp *SharePoint) listChildren(ctx context.Context, folder string) ([]driveItem, error) {
	folder = strings.Trim(folder, "/")
	next := fmt.Sprintf("%s/drives/%s/root/children", sp.graphURL, url.PathEscape(sp.driveID))
	if folder != "" {
		next = fmt.Sprintf("%s/drives/%s/root:/%s:/children", sp.graphURL, url.PathEscape(sp.driveID), escapePath(folder))
	}

	var items []driveItem
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		resp, err := sp.api.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", folder, err)
		}
		var page childrenResponse
		err = decodeGraph(resp, &page)
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", folder, err)
		}
		items = append(items, page.Value...)
		next = page.NextLink
	}
	return items, nil
}

func (sp *SharePoint) downloadItem(ctx context.Context, item driveItem) ([]byte, error) {
	client := sp.download
	target := item.DownloadURL
	if target == "" {
		client = sp.api
		target = fmt.Sprintf("%s/drives/%s/items/%s/content", sp.graphURL, url.PathEscape(sp.driveID), url.PathEscape(item.ID))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, constants.MaxRemoteImageSize))
}

func decodeGraph(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// Fetcher lists and downloads a remote folder. *SharePoint implements it.
type Fetcher interface {
	Fetch(ctx context.Context, folder string) ([]ingest.Source, error)
}

// SharePointHandlers returns the sharepoint_ingest handler.
func SharePointHandlers(fetcher Fetcher, ingester Ingester) tasks.Handlers {
	return tasks.Handlers{
		tasks.SharePointIngest: tasks.Typed(func(ctx context.Context, p tasks.SharePointIngestPayload) error {
			sources, err := fetcher.Fetch(ctx, p.Folder)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				return nil
			}
			_, err = ingester.IngestBatch(ctx, sources, p.User, p.AlbumID, nil)
			return err
		}),
	}
}
