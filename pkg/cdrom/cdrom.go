// Package cdrom reads CD-ROM and GD-ROM images stored in CHD containers.
//
// A Disc maps logical or physical sector addresses onto the container's
// frames using the track metadata, and converts between sector layouts
// where the data allows it.
package cdrom

import (
	"fmt"

	"github.com/samcharles93/chdkit/pkg/chd"
)

const (
	MaxSectorBytes  = 2352
	MaxSubcodeBytes = 96
	// FrameBytes is the size of one stored frame: sector data then subcode.
	FrameBytes = MaxSectorBytes + MaxSubcodeBytes

	// LeadOut is the track number TrackStart accepts for the lead-out.
	LeadOut = 0xAA

	framesPerSecond = 75
)

var (
	ErrNotCDROM        = fmt.Errorf("cdrom: image is not a CD-ROM: %w", chd.ErrNotFound)
	ErrOldFormat       = fmt.Errorf("cdrom: track metadata predates CHT2, upgrade the image: %w", chd.ErrUnsupported)
	ErrUnorderedTracks = fmt.Errorf("cdrom: tracks are not numbered in order: %w", chd.ErrDataInvalid)
	ErrConversion      = fmt.Errorf("cdrom: sector conversion: %w", chd.ErrNotSupportedOperation)
	ErrTrackRange      = fmt.Errorf("cdrom: track: %w", chd.ErrOutOfRange)
	ErrSectorRange     = fmt.Errorf("cdrom: sector: %w", chd.ErrOutOfRange)
)

var syncBytes = [12]byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

// TOC is the table of contents of a disc.
type TOC struct {
	Tracks []chd.Track `json:"tracks"`
	GDROM  bool        `json:"gdrom"`
}

// ReadTOC collects the track records of f. Images that are not CDs report
// ErrNotCDROM; images using the oldest track formats report ErrOldFormat.
func ReadTOC(f *chd.File) (*TOC, error) {
	h, err := f.Header()
	if err != nil {
		return nil, err
	}
	if h.HunkBytes%FrameBytes != 0 || h.UnitBytes != FrameBytes {
		return nil, ErrNotCDROM
	}

	toc := &TOC{}
	for idx := uint32(0); len(toc.Tracks) < chd.MaxTracks; idx++ {
		m, err := findTrack(f, idx, toc)
		if err != nil {
			return nil, err
		}
		if m == nil {
			break
		}
		t, err := chd.ParseTrack(m)
		if err != nil {
			return nil, err
		}
		toc.Tracks = append(toc.Tracks, *t)
	}

	if len(toc.Tracks) == 0 {
		m, err := f.Metadata(0, chd.TagCDROMOld)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return nil, ErrOldFormat
		}
		return nil, ErrNotCDROM
	}
	for i, t := range toc.Tracks {
		if t.Number != i+1 {
			return nil, fmt.Errorf("%w: track %d at position %d", ErrUnorderedTracks, t.Number, i+1)
		}
	}
	return toc, nil
}

// findTrack returns the idx'th track record, trying each track format in
// turn.
func findTrack(f *chd.File, idx uint32, toc *TOC) (*chd.Metadata, error) {
	for _, tag := range []string{chd.TagCDROMTrack, chd.TagCDROMTrack2, chd.TagGDROMOld, chd.TagGDROMTrack} {
		m, err := f.Metadata(idx, tag)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		switch tag {
		case chd.TagGDROMOld:
			return nil, ErrOldFormat
		case chd.TagGDROMTrack:
			toc.GDROM = true
		}
		return m, nil
	}
	return nil, nil
}

// trackMap places one track on the three frame scales. The entry after the
// last track describes the lead-out.
type trackMap struct {
	physFrameOfs int
	chdFrameOfs  int
	logFrameOfs  int
	logFrames    int
}

func (m *trackMap) start(phys bool) int {
	if phys {
		return m.physFrameOfs
	}
	return m.logFrameOfs
}

// Disc is a CD view over an open File. It shares the File's session and is
// not safe for concurrent use.
type Disc struct {
	f       *chd.File
	toc     *TOC
	mapping []trackMap
}

// New reads the table of contents of f.
func New(f *chd.File) (*Disc, error) {
	toc, err := ReadTOC(f)
	if err != nil {
		return nil, err
	}
	d := &Disc{f: f, toc: toc, mapping: make([]trackMap, 0, len(toc.Tracks)+1)}

	var physOfs, chdOfs, logOfs int
	for _, t := range toc.Tracks {
		d.mapping = append(d.mapping, trackMap{
			physFrameOfs: physOfs,
			chdFrameOfs:  chdOfs,
			logFrameOfs:  logOfs + t.Pregap,
			logFrames:    t.Frames - t.Pregap,
		})
		if t.PregapDataSize() == 0 {
			logOfs += t.Pregap
		}
		logOfs += t.Frames + t.Postgap
		physOfs += t.Frames
		chdOfs += t.Frames + t.ExtraFrames
	}
	d.mapping = append(d.mapping, trackMap{
		physFrameOfs: physOfs,
		chdFrameOfs:  chdOfs,
		logFrameOfs:  logOfs,
	})
	return d, nil
}

// TOC returns the table of contents.
func (d *Disc) TOC() *TOC { return d.toc }

// Tracks returns the track list.
func (d *Disc) Tracks() []chd.Track { return d.toc.Tracks }

// GDROM reports whether the image is a GD-ROM.
func (d *Disc) GDROM() bool { return d.toc.GDROM }

// TrackStart returns the first frame of track (1-based), logical or
// physical. Track LeadOut gives the lead-out frame.
func (d *Disc) TrackStart(track int, phys bool) (int, error) {
	if track == LeadOut {
		return d.mapping[len(d.mapping)-1].start(phys), nil
	}
	if track < 1 || track > len(d.toc.Tracks) {
		return 0, fmt.Errorf("%w: %d not in 1..%d", ErrTrackRange, track, len(d.toc.Tracks))
	}
	return d.mapping[track-1].start(phys), nil
}

// TrackFrames returns the logical length of track in frames, pregap
// excluded.
func (d *Disc) TrackFrames(track int) (int, error) {
	if track < 1 || track > len(d.toc.Tracks) {
		return 0, fmt.Errorf("%w: %d not in 1..%d", ErrTrackRange, track, len(d.toc.Tracks))
	}
	return d.mapping[track-1].logFrames, nil
}

// TrackAt returns the 1-based track holding sector lba.
func (d *Disc) TrackAt(lba int, phys bool) (int, error) {
	idx, err := d.locate(lba, phys)
	if err != nil {
		return 0, err
	}
	return idx + 1, nil
}

func (d *Disc) locate(lba int, phys bool) (int, error) {
	if lba >= 0 {
		for i := 0; i+1 < len(d.mapping); i++ {
			if lba < d.mapping[i+1].start(phys) {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %d outside 0..%d", ErrSectorRange, lba, d.mapping[len(d.mapping)-1].start(phys)-1)
}

// ReadSector returns sector lba as dataType. An empty dataType returns the
// sector as stored. A MODE1_RAW sector built from MODE1 data carries sync
// and header bytes but no EDC or ECC.
func (d *Disc) ReadSector(lba int, dataType chd.TrackType, phys bool) ([]byte, error) {
	idx, err := d.locate(lba, phys)
	if err != nil {
		return nil, err
	}
	cur := &d.mapping[idx]
	track := &d.toc.Tracks[idx]
	chdSector := lba - cur.start(phys) + cur.chdFrameOfs

	offset, length, header, err := conversion(track.Type, dataType, lba)
	if err != nil {
		return nil, err
	}
	size := length
	if header != nil {
		size = MaxSectorBytes
	}

	if !phys {
		if track.PregapDataSize() != 0 {
			chdSector += track.Pregap
		} else if lba < cur.logFrameOfs {
			// Pregap frames that are not stored read as silence.
			return make([]byte, size), nil
		}
	}
	if chdSector < 0 {
		return nil, fmt.Errorf("%w: %d maps before the first frame", ErrSectorRange, lba)
	}

	data, err := d.f.ReadBytes(uint64(chdSector)*FrameBytes+uint64(offset), uint64(length))
	if err != nil {
		return nil, err
	}
	if header == nil {
		return data, nil
	}
	out := make([]byte, size)
	n := copy(out, header)
	copy(out[n:], data)
	return out, nil
}

// conversion returns where the requested layout sits inside a stored frame
// of type from, and any header that has to be synthesized in front of it.
func conversion(from, to chd.TrackType, lba int) (offset, length int, header []byte, err error) {
	switch {
	case to == "" || to == from:
		return 0, from.DataSize(), nil, nil
	case to == chd.TrackMode1 && from == chd.TrackMode1Raw:
		return 16, 2048, nil, nil
	case to == chd.TrackMode1Raw && from == chd.TrackMode1:
		return 0, 2048, mode1Header(lba), nil
	case to == chd.TrackMode1 && (from == chd.TrackMode2Form1 || from == chd.TrackMode2Raw):
		return 24, 2048, nil, nil
	case to == chd.TrackMode1 && from == chd.TrackMode2FormMix:
		return 8, 2048, nil, nil
	case to == chd.TrackMode2 && (from == chd.TrackMode1Raw || from == chd.TrackMode2Raw):
		return 16, 2336, nil, nil
	}
	return 0, 0, nil, fmt.Errorf("%w: %s to %s", ErrConversion, from, to)
}

// mode1Header is the sync pattern, BCD address and mode byte of a MODE1
// sector.
func mode1Header(lba int) []byte {
	m, s, f := msf(lba)
	h := make([]byte, 0, 16)
	h = append(h, syncBytes[:]...)
	return append(h, bcd(m), bcd(s), bcd(f), 1)
}

func bcd(v int) byte {
	return byte((v/10)<<4 | v%10)
}

func msf(frames int) (m, s, f int) {
	m = frames / (60 * framesPerSecond)
	rest := frames % (60 * framesPerSecond)
	return m, rest / framesPerSecond, rest % framesPerSecond
}

// MSF formats a frame count as minutes:seconds:frames.
func MSF(frames int) string {
	m, s, f := msf(frames)
	return fmt.Sprintf("%02d:%02d:%02d", m, s, f)
}

// TrackLayout is a track with its resolved address.
type TrackLayout struct {
	chd.Track
	Start    int    `json:"start"`
	StartMSF string `json:"start_msf"`
	// Length excludes the pregap.
	Length int `json:"length"`
}

// Layout is the addressed table of contents.
type Layout struct {
	GDROM      bool          `json:"gdrom"`
	Tracks     []TrackLayout `json:"tracks"`
	LeadOut    int           `json:"lead_out"`
	LeadOutMSF string        `json:"lead_out_msf"`
}

// Layout resolves every track start, logical or physical.
func (d *Disc) Layout(phys bool) *Layout {
	l := &Layout{GDROM: d.toc.GDROM, Tracks: make([]TrackLayout, len(d.toc.Tracks))}
	for i, t := range d.toc.Tracks {
		start := d.mapping[i].start(phys)
		l.Tracks[i] = TrackLayout{Track: t, Start: start, StartMSF: MSF(start), Length: d.mapping[i].logFrames}
	}
	l.LeadOut = d.mapping[len(d.mapping)-1].start(phys)
	l.LeadOutMSF = MSF(l.LeadOut)
	return l
}
