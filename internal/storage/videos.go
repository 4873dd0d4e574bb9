package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"lanstream/internal/models"
)

func validVideoType(t models.VideoType) bool {
	switch t {
	case models.VideoTypeLink, models.VideoTypeUpload, models.VideoTypeIPCam, models.VideoTypeWebRTC:
		return true
	}
	return false
}

// nextVideoIDLocked derives a catalog id from the creation timestamp while
// guaranteeing process-wide monotonicity for same-millisecond creations.
func (s *Storage) nextVideoIDLocked() int64 {
	id := s.now().UnixMilli()
	if id <= s.lastVideoID {
		id = s.lastVideoID + 1
	}
	s.lastVideoID = id
	return id
}

func (s *Storage) AppendVideo(params CreateVideoParams) (models.VideoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.VideoEntry{}, errors.New("title is required")
	}
	if !validVideoType(params.Type) {
		return models.VideoEntry{}, fmt.Errorf("invalid video type %q", params.Type)
	}
	switch params.Type {
	case models.VideoTypeWebRTC:
		if strings.TrimSpace(params.SignalingURL) == "" {
			return models.VideoEntry{}, errors.New("signalingUrl is required for webrtc entries")
		}
	default:
		if strings.TrimSpace(params.Link) == "" {
			return models.VideoEntry{}, errors.New("link is required")
		}
	}

	entry := models.VideoEntry{
		ID:           s.nextVideoIDLocked(),
		Title:        title,
		Type:         params.Type,
		Link:         strings.TrimSpace(params.Link),
		SignalingURL: strings.TrimSpace(params.SignalingURL),
		Username:     strings.TrimSpace(params.Username),
		Password:     params.Password,
		Processing:   params.Processing,
		Thumbnail:    strings.TrimSpace(params.Thumbnail),
		Summary:      strings.TrimSpace(params.Summary),
		CreatedAt:    s.now(),
	}

	s.data.Videos = append(s.data.Videos, entry)
	if err := s.persist(); err != nil {
		s.data.Videos = s.data.Videos[:len(s.data.Videos)-1]
		return models.VideoEntry{}, err
	}
	return entry, nil
}

func (s *Storage) ListVideos() ([]models.VideoEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	videos := make([]models.VideoEntry, len(s.data.Videos))
	copy(videos, s.data.Videos)
	sort.Slice(videos, func(i, j int) bool {
		return videos[i].ID < videos[j].ID
	})
	return videos, nil
}

func (s *Storage) GetVideo(id int64) (models.VideoEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, video := range s.data.Videos {
		if video.ID == id {
			return video, true
		}
	}
	return models.VideoEntry{}, false
}

func (s *Storage) UpdateVideo(id int64, update VideoUpdate) (models.VideoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	idx := -1
	for i, video := range updatedData.Videos {
		if video.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.VideoEntry{}, fmt.Errorf("video %d: %w", id, ErrVideoNotFound)
	}

	video := updatedData.Videos[idx]
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return models.VideoEntry{}, errors.New("title cannot be empty")
		}
		video.Title = title
	}
	if update.Type != nil {
		if !validVideoType(*update.Type) {
			return models.VideoEntry{}, fmt.Errorf("invalid video type %q", *update.Type)
		}
		video.Type = *update.Type
	}
	if update.Link != nil {
		video.Link = strings.TrimSpace(*update.Link)
	}
	if update.SignalingURL != nil {
		video.SignalingURL = strings.TrimSpace(*update.SignalingURL)
	}
	if update.Username != nil {
		video.Username = strings.TrimSpace(*update.Username)
	}
	if update.Password != nil {
		video.Password = *update.Password
	}
	if update.Processing != nil {
		video.Processing = *update.Processing
	}
	if update.Thumbnail != nil {
		video.Thumbnail = strings.TrimSpace(*update.Thumbnail)
	}
	if update.Summary != nil {
		video.Summary = strings.TrimSpace(*update.Summary)
	}

	updatedData.Videos[idx] = video
	if err := s.persistDataset(updatedData); err != nil {
		return models.VideoEntry{}, err
	}
	s.data = updatedData
	return video, nil
}

// ReplaceVideos rewrites the whole catalog in one persisted write. Callers
// must pass the complete list; entries missing from it are removed.
func (s *Storage) ReplaceVideos(videos []models.VideoEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	updatedData.Videos = make([]models.VideoEntry, len(videos))
	copy(updatedData.Videos, videos)

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	for _, video := range videos {
		if video.ID > s.lastVideoID {
			s.lastVideoID = video.ID
		}
	}
	return nil
}

// ClearProcessing flips the processing flag off for the given entries.
// The catalog is re-read under the write lock, so entries appended or
// changed after a caller took its snapshot are left intact.
func (s *Storage) ClearProcessing(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	updatedData := cloneDataset(s.data)
	changed := false
	for i := range updatedData.Videos {
		if _, ok := wanted[updatedData.Videos[i].ID]; ok && updatedData.Videos[i].Processing {
			updatedData.Videos[i].Processing = false
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}

func (s *Storage) DeleteVideo(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	idx := -1
	for i, video := range updatedData.Videos {
		if video.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("video %d: %w", id, ErrVideoNotFound)
	}

	updatedData.Videos = append(updatedData.Videos[:idx], updatedData.Videos[idx+1:]...)
	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}
