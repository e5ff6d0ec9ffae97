package api

import (
	"time"

	"github.com/samcharles93/chdkit/pkg/cdrom"
	"github.com/samcharles93/chdkit/pkg/chd"
)

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ListResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

func newList[T any](data []T) ListResponse[T] {
	if data == nil {
		data = []T{}
	}
	return ListResponse[T]{Object: "list", Data: data}
}

type ImageInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type HeaderResponse struct {
	Object string `json:"object"`
	Image  string `json:"image"`
	*chd.Header
}

// MetadataRecord carries Text for printable records and Data otherwise.
type MetadataRecord struct {
	Index       uint32 `json:"index"`
	Tag         string `json:"tag"`
	Flags       uint8  `json:"flags"`
	Checksummed bool   `json:"checksummed"`
	Length      int    `json:"length"`
	Text        string `json:"text,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

func newMetadataRecord(index uint32, m *chd.Metadata) MetadataRecord {
	r := MetadataRecord{
		Index:       index,
		Tag:         m.Tag,
		Flags:       m.Flags,
		Checksummed: m.Checksummed(),
		Length:      len(m.Data),
	}
	if printable(m.Data) {
		r.Text = string(m.Data)
	} else {
		r.Data = m.Data
	}
	return r
}

type CreateSessionRequest struct {
	Image string `json:"image"`
}

type SessionResponse struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Image     string `json:"image"`
	CreatedAt int64  `json:"created_at"`
	Closed    bool   `json:"closed,omitempty"`
	Size      int64  `json:"size"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type TOCResponse struct {
	Object string `json:"object"`
	Image  string `json:"image"`
	*cdrom.Layout
}

func unixTime(t time.Time) int64 { return t.Unix() }
