// Package faces groups detected faces into identities and propagates the
// names users give them.
package faces

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/kozaktomas/pixpursuit/internal/metrics"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/rs/zerolog"
)

// ErrEmptyName is returned when a face is named with a blank string.
var ErrEmptyName = errors.New("face name is empty")

// Manager reconciles face labels across the catalog.
type Manager struct {
	catalog    database.Catalog
	dispatcher tasks.Dispatcher
	eps        float64
	minSamples int
	log        zerolog.Logger
}

func NewManager(catalog database.Catalog, dispatcher tasks.Dispatcher) *Manager {
	return &Manager{
		catalog:    catalog,
		dispatcher: dispatcher,
		eps:        constants.DBSCANEps,
		minSamples: constants.DBSCANMinSamples,
		log:        logging.Component("faces"),
	}
}

// AnonLabel renders a cluster label as an unnamed face label.
func AnonLabel(cluster int) string {
	return constants.AnonPrefix + strconv.Itoa(cluster)
}

// IsAnon reports whether a face label has not been named by a user.
func IsAnon(label string) bool {
	return strings.HasPrefix(label, constants.AnonPrefix)
}

// GroupFaces runs one reconciliation cycle: propagate user renames, cluster
// every image face and relabel unnamed slots, then regroup the face table.
// Any failure aborts the rest of the cycle.
func (m *Manager) GroupFaces(ctx context.Context) error {
	if err := m.propagateRenames(ctx); err != nil {
		return fmt.Errorf("propagate renames: %w", err)
	}
	if err := m.clusterImages(ctx); err != nil {
		return fmt.Errorf("cluster image faces: %w", err)
	}
	if err := m.groupFaceTable(ctx); err != nil {
		return fmt.Errorf("group face table: %w", err)
	}
	return nil
}

// propagateRenames handles slots a user renamed since the last cycle.
func (m *Manager) propagateRenames(ctx context.Context) error {
	images, err := m.catalog.ImagesWithUnknownFaces(ctx)
	if err != nil {
		return err
	}

	for _, img := range images {
		for i, user := range img.UserFaces {
			if i >= len(img.BacklogFaces) {
				break
			}
			backlog := img.BacklogFaces[i]
			if user == backlog || backlog == constants.AnonFace {
				continue
			}
			payload := tasks.UpdateNamesPayload{Old: backlog, New: user}
			if err := m.dispatcher.Enqueue(ctx, tasks.UpdateNames, payload); err != nil {
				return fmt.Errorf("enqueue update_names: %w", err)
			}
			if err := m.catalog.AdvanceBacklog(ctx, img.ID, i, user); err != nil {
				return fmt.Errorf("advance backlog of %s: %w", img.ID, err)
			}
			m.log.Debug().Str("image", img.ID).Int("slot", i).Str("old", backlog).Str("new", user).Msg("propagating rename")
		}
	}
	return nil
}

// clusterImages clusters the faces of every image together and writes the
// labels back slot by slot.
func (m *Manager) clusterImages(ctx context.Context) error {
	images, err := m.catalog.ImagesWithEmbeddings(ctx)
	if err != nil {
		return err
	}

	var all [][]float32
	for _, img := range images {
		all = append(all, img.Embeddings...)
	}
	if len(all) == 0 {
		return nil
	}

	labels, err := DBSCAN(all, m.eps, m.minSamples)
	if err != nil {
		return err
	}
	metrics.FaceClusters.Set(float64(ClusterCount(labels)))

	offset := 0
	for _, img := range images {
		n := len(img.Embeddings)
		update := relabel(img, labels[offset:offset+n])
		offset += n

		if err := m.catalog.SetImageFaces(ctx, update); err != nil {
			return fmt.Errorf("update faces of %s: %w", img.ID, err)
		}
	}
	m.log.Info().Int("images", len(images)).Int("faces", len(all)).Int("clusters", ClusterCount(labels)).Msg("faces clustered")
	return nil
}

// relabel rewrites unnamed user and backlog labels to their cluster label.
// Human names are kept.
func relabel(img database.Image, labels []int) database.FaceUpdate {
	user := slices.Clone(img.UserFaces)
	backlog := slices.Clone(img.BacklogFaces)

	for i, label := range labels {
		name := AnonLabel(label)
		if i < len(user) && IsAnon(user[i]) {
			user[i] = name
		}
		if i < len(backlog) && IsAnon(backlog[i]) {
			backlog[i] = name
		}
	}

	return database.FaceUpdate{
		ImageID:      img.ID,
		UserFaces:    user,
		BacklogFaces: backlog,
		AutoFaces:    slices.Clone(labels),
	}
}

// groupFaceTable clusters the rows of the face-embedding table.
func (m *Manager) groupFaceTable(ctx context.Context) error {
	rows, err := m.catalog.ListFaceEmbeddings(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	points := make([][]float32, len(rows))
	for i, r := range rows {
		points[i] = r.Embedding
	}
	labels, err := DBSCAN(points, m.eps, m.minSamples)
	if err != nil {
		return err
	}

	groups := make(map[int64]string, len(rows))
	for i, r := range rows {
		group := constants.FaceGroupPrefix + strconv.Itoa(labels[i])
		if group != r.Group {
			groups[r.ID] = group
		}
	}
	return m.catalog.SetFaceGroups(ctx, groups)
}

// UpdateNames renames the first slot labelled old in every image.
func (m *Manager) UpdateNames(ctx context.Context, old, name string) error {
	name = database.NormalizeLabel(name)
	if name == "" {
		return ErrEmptyName
	}
	n, err := m.catalog.UpdateNames(ctx, old, name)
	if err != nil {
		return err
	}
	m.log.Info().Str("old", old).Str("new", name).Int("images", n).Msg("face name propagated")
	return nil
}

// AddNames names face slot index of an image. Naming a freshly detected face
// waits for clustering; renaming a clustered or named face propagates now.
func (m *Manager) AddNames(ctx context.Context, id string, index int, name string) error {
	name = database.NormalizeLabel(name)
	if name == "" {
		return ErrEmptyName
	}

	old, err := m.catalog.AddNames(ctx, id, index, name)
	if err != nil {
		return err
	}
	if old == constants.AnonFace || old == name {
		return nil
	}
	return m.dispatcher.Enqueue(ctx, tasks.UpdateNames, tasks.UpdateNamesPayload{Old: old, New: name})
}

// DeleteFacesForImages removes face rows matching the embeddings of deleted images.
func (m *Manager) DeleteFacesForImages(ctx context.Context, embeddings [][]float32) error {
	n, err := m.catalog.DeleteFaceEmbeddingsNear(ctx, embeddings, constants.FaceDeleteRadius)
	if err != nil {
		return err
	}
	m.log.Debug().Int("requested", len(embeddings)).Int("deleted", n).Msg("face rows deleted")
	return nil
}

// Handlers returns the task handlers owned by the face manager.
func (m *Manager) Handlers() tasks.Handlers {
	return tasks.Handlers{
		tasks.GroupFaces: func(ctx context.Context, _ []byte) error {
			return m.GroupFaces(ctx)
		},
		tasks.UpdateNames: tasks.Typed(func(ctx context.Context, p tasks.UpdateNamesPayload) error {
			return m.UpdateNames(ctx, p.Old, p.New)
		}),
		tasks.DeleteFacesForImages: tasks.Typed(func(ctx context.Context, p tasks.DeleteFacesPayload) error {
			return m.DeleteFacesForImages(ctx, p.Embeddings)
		}),
	}
}
