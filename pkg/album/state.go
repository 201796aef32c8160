// Package album holds a user's albums and photos as an immutable State value.
//
// Every mutation returns a new State and leaves the receiver untouched, so a
// caller can keep the previous value for rollback or diffing:
//
//	next, created, err := state.CreateAlbum("Holidays", "", time.Now())
//	if err != nil {
//		return err
//	}
//	state = next
//
// Album covers follow the photos: the first photo added to an album becomes
// its cover, and deleting the cover photo promotes the next remaining photo.
package album

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/types"
)

// State is the full set of albums and photos owned by one user
type State struct {
	Albums []types.Album `json:"albums"`
	Photos []types.Photo `json:"photos"`
}

// AlbumUpdate is a partial album patch; nil fields are left unchanged
type AlbumUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	CoverImage  *string `json:"coverImage,omitempty"`
}

// CreateAlbum appends a new album with a fresh id
func (s State) CreateAlbum(name, description string, now time.Time) (State, types.Album, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s, types.Album{}, apperr.New(apperr.ErrCodeInvalidInput, "album name is required")
	}

	a := types.Album{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	next := s.clone()
	next.Albums = append(next.Albums, a)
	return next, a, nil
}

// UpdateAlbum applies upd to the album and bumps its UpdatedAt
func (s State) UpdateAlbum(id string, upd AlbumUpdate, now time.Time) (State, types.Album, error) {
	i := s.albumIndex(id)
	if i < 0 {
		return s, types.Album{}, albumNotFound(id)
	}

	a := s.Albums[i]
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return s, types.Album{}, apperr.New(apperr.ErrCodeInvalidInput, "album name is required")
		}
		a.Name = name
	}
	if upd.Description != nil {
		a.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.CoverImage != nil {
		a.CoverImage = *upd.CoverImage
	}
	a.UpdatedAt = now

	next := s.clone()
	next.Albums[i] = a
	return next, a, nil
}

// DeleteAlbum removes the album and all of its photos. The removed photos are
// returned so the caller can release their stored files.
func (s State) DeleteAlbum(id string) (State, []types.Photo, error) {
	if s.albumIndex(id) < 0 {
		return s, nil, albumNotFound(id)
	}

	next := State{
		Albums: make([]types.Album, 0, len(s.Albums)),
		Photos: make([]types.Photo, 0, len(s.Photos)),
	}
	for _, a := range s.Albums {
		if a.ID != id {
			next.Albums = append(next.Albums, a)
		}
	}

	var removed []types.Photo
	for _, p := range s.Photos {
		if p.AlbumID == id {
			removed = append(removed, p)
			continue
		}
		next.Photos = append(next.Photos, p)
	}
	return next, removed, nil
}

// Album looks up an album by id
func (s State) Album(id string) (types.Album, bool) {
	if i := s.albumIndex(id); i >= 0 {
		return s.Albums[i], true
	}
	return types.Album{}, false
}

// AddPhoto appends a photo to an existing album. The first photo of an album
// becomes its cover.
func (s State) AddPhoto(p types.Photo, now time.Time) (State, error) {
	i := s.albumIndex(p.AlbumID)
	if i < 0 {
		return s, albumNotFound(p.AlbumID)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	next := s.clone()
	next.Photos = append(next.Photos, p)

	if len(next.PhotosForAlbum(p.AlbumID)) == 1 {
		next.Albums[i].CoverImage = p.Src
		next.Albums[i].UpdatedAt = now
	}
	return next, nil
}

// DeletePhoto removes a photo. When it was the album cover, the first
// remaining photo of the album takes its place, or the cover is cleared.
func (s State) DeletePhoto(id string, now time.Time) (State, types.Photo, error) {
	idx := slices.IndexFunc(s.Photos, func(p types.Photo) bool { return p.ID == id })
	if idx < 0 {
		return s, types.Photo{}, apperr.New(apperr.ErrCodePhotoNotFound, "photo %q not found", id)
	}
	removed := s.Photos[idx]

	next := s.clone()
	next.Photos = slices.Delete(next.Photos, idx, idx+1)

	if ai := next.albumIndex(removed.AlbumID); ai >= 0 && next.Albums[ai].CoverImage == removed.Src {
		cover := ""
		if remaining := next.PhotosForAlbum(removed.AlbumID); len(remaining) > 0 {
			cover = remaining[0].Src
		}
		next.Albums[ai].CoverImage = cover
		next.Albums[ai].UpdatedAt = now
	}
	return next, removed, nil
}

// Photo looks up a photo by id
func (s State) Photo(id string) (types.Photo, bool) {
	for _, p := range s.Photos {
		if p.ID == id {
			return p, true
		}
	}
	return types.Photo{}, false
}

// PhotosForAlbum returns the album's photos in insertion order
func (s State) PhotosForAlbum(albumID string) []types.Photo {
	var out []types.Photo
	for _, p := range s.Photos {
		if p.AlbumID == albumID {
			out = append(out, p)
		}
	}
	return out
}

// Clear returns an empty state
func (s State) Clear() State {
	return State{}
}

func (s State) albumIndex(id string) int {
	return slices.IndexFunc(s.Albums, func(a types.Album) bool { return a.ID == id })
}

func (s State) clone() State {
	return State{
		Albums: slices.Clone(s.Albums),
		Photos: slices.Clone(s.Photos),
	}
}

func albumNotFound(id string) error {
	return apperr.New(apperr.ErrCodeAlbumNotFound, "album %q not found", id)
}
