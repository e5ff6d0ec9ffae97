package chd

import (
	"fmt"
	"regexp"
	"strconv"
)

// MaxTracks is the most tracks a CD-ROM can hold.
const MaxTracks = 99

// trackPadding is the frame multiple each track is padded to on disk.
const trackPadding = 4

// TrackType is the sector layout of a CD track.
type TrackType string

const (
	TrackMode1        TrackType = "MODE1"
	TrackMode1Raw     TrackType = "MODE1_RAW"
	TrackMode2        TrackType = "MODE2"
	TrackMode2Form1   TrackType = "MODE2_FORM1"
	TrackMode2Form2   TrackType = "MODE2_FORM2"
	TrackMode2FormMix TrackType = "MODE2_FORM_MIX"
	TrackMode2Raw     TrackType = "MODE2_RAW"
	TrackAudio        TrackType = "AUDIO"
)

var trackTypeNames = map[string]TrackType{
	"MODE1":          TrackMode1,
	"MODE1/2048":     TrackMode1,
	"MODE1_RAW":      TrackMode1Raw,
	"MODE1/2352":     TrackMode1Raw,
	"MODE2":          TrackMode2,
	"MODE2/2336":     TrackMode2, // MAME reads 2336 byte sectors as MODE2, not MODE2_FORM_MIX
	"MODE2_FORM1":    TrackMode2Form1,
	"MODE2/2048":     TrackMode2Form1,
	"MODE2_FORM2":    TrackMode2Form2,
	"MODE2/2324":     TrackMode2Form2,
	"MODE2_FORM_MIX": TrackMode2FormMix,
	"MODE2_RAW":      TrackMode2Raw,
	"MODE2/2352":     TrackMode2Raw,
	"AUDIO":          TrackAudio,
}

// ParseTrackType accepts both the current names and the legacy
// MODEx/size spellings.
func ParseTrackType(s string) (TrackType, bool) {
	t, ok := trackTypeNames[s]
	return t, ok
}

// DataSize is the number of sector bytes stored per frame.
func (t TrackType) DataSize() int {
	switch t {
	case TrackMode1, TrackMode2Form1:
		return 2048
	case TrackMode2, TrackMode2FormMix:
		return 2336
	case TrackMode2Form2:
		return 2324
	case TrackMode1Raw, TrackMode2Raw, TrackAudio:
		return 2352
	}
	return 0
}

// SubcodeType is the subchannel layout of a CD track.
type SubcodeType string

const (
	SubcodeNone   SubcodeType = "NONE"
	SubcodeNormal SubcodeType = "NORMAL"
	SubcodeRaw    SubcodeType = "RAW"
)

var subcodeNames = map[string]SubcodeType{
	"NONE":   SubcodeNone,
	"RW":     SubcodeNormal,
	"RW_RAW": SubcodeRaw,
}

// Size is the number of subcode bytes stored per frame.
func (s SubcodeType) Size() int {
	if s == SubcodeNormal || s == SubcodeRaw {
		return 96
	}
	return 0
}

// HardDisk is the geometry held in a GDDD record.
type HardDisk struct {
	Cylinders      int `json:"cylinders"`
	Heads          int `json:"heads"`
	Sectors        int `json:"sectors"`
	BytesPerSector int `json:"bytes_per_sector"`
}

// Track describes one CD or GD-ROM track.
type Track struct {
	Number        int         `json:"number"`
	Type          TrackType   `json:"type"`
	Subcode       SubcodeType `json:"subcode"`
	Frames        int         `json:"frames"`
	PadFrames     int         `json:"pad_frames"`
	Pregap        int         `json:"pregap"`
	PregapType    TrackType   `json:"pregap_type"`
	PregapSubcode SubcodeType `json:"pregap_subcode"`
	// PregapInFile is set when the pregap frames are stored in the image.
	PregapInFile bool `json:"pregap_in_file"`
	Postgap      int  `json:"postgap"`
	// ExtraFrames pads Frames up to a multiple of four on disk.
	ExtraFrames int `json:"extra_frames"`
}

// PregapDataSize is the stored sector size of the pregap, or 0 when the
// pregap is not in the image.
func (t *Track) PregapDataSize() int {
	if !t.PregapInFile {
		return 0
	}
	return t.PregapType.DataSize()
}

// AV describes an A/V (LaserDisc) stream.
type AV struct {
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Interlaced bool    `json:"interlaced"`
	Channels   int     `json:"channels"`
	SampleRate int     `json:"sample_rate"`
}

var (
	hardDiskRe = regexp.MustCompile(`^CYLS:(?P<cyls>\d+),HEADS:(?P<heads>\d+),SECS:(?P<secs>\d+),BPS:(?P<bps>\d+)$`)

	cdTrackRe = regexp.MustCompile(`^TRACK:(?P<track>\d+)\s+TYPE:(?P<type>[\w/]+)\s+SUBTYPE:(?P<subtype>\w+)\s+FRAMES:(?P<frames>\d+)$`)

	cdTrack2Re = regexp.MustCompile(`^TRACK:(?P<track>\d+)\s+TYPE:(?P<type>[\w/]+)\s+SUBTYPE:(?P<subtype>\w+)\s+FRAMES:(?P<frames>\d+)\s+` +
		`PREGAP:(?P<pregap>\d+)\s+PGTYPE:(?P<pgtype>[\w/]+)\s+PGSUB:(?P<pgsub>\w+)\s+POSTGAP:(?P<postgap>\d+)$`)

	gdTrackRe = regexp.MustCompile(`^TRACK:(?P<track>\d+)\s+TYPE:(?P<type>[\w/]+)\s+SUBTYPE:(?P<subtype>\w+)\s+FRAMES:(?P<frames>\d+)\s+` +
		`PAD:(?P<pad>\d+)\s+PREGAP:(?P<pregap>\d+)\s+PGTYPE:(?P<pgtype>[\w/]+)\s+PGSUB:(?P<pgsub>\w+)\s+POSTGAP:(?P<postgap>\d+)$`)

	avRe = regexp.MustCompile(`^FPS:(?P<fps>\d+\.\d+)\s+WIDTH:(?P<width>\d+)\s+HEIGHT:(?P<height>\d+)\s+` +
		`INTERLACED:(?P<interlaced>\d+)\s+CHANNELS:(?P<channels>\d+)\s+SAMPLERATE:(?P<samplerate>\d+)$`)
)

func parseError(format string, args ...any) error {
	e := newError(KindDataInvalid, "parse metadata")
	e.Err = fmt.Errorf(format, args...)
	return e
}

// fields matches re against data and returns its named groups.
func fields(m *Metadata, re *regexp.Regexp) (map[string]string, error) {
	if m.Flags&^FlagChecksum != 0 {
		return nil, parseError("unsupported flags %#x", m.Flags)
	}
	match := re.FindStringSubmatch(string(m.Data))
	if match == nil {
		return nil, parseError("%s record %q does not match its format", m.Tag, m.Data)
	}
	out := make(map[string]string, len(match))
	for i, name := range re.SubexpNames() {
		if name != "" {
			out[name] = match[i]
		}
	}
	return out, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ParseHardDisk decodes a GDDD record.
func ParseHardDisk(m *Metadata) (*HardDisk, error) {
	if m.Tag != TagHardDisk {
		return nil, parseError("tag %q is not a hard disk record", m.Tag)
	}
	f, err := fields(m, hardDiskRe)
	if err != nil {
		return nil, err
	}
	return &HardDisk{
		Cylinders:      atoi(f["cyls"]),
		Heads:          atoi(f["heads"]),
		Sectors:        atoi(f["secs"]),
		BytesPerSector: atoi(f["bps"]),
	}, nil
}

// ParseTrack decodes a CHTR, CHT2 or CHGD record.
func ParseTrack(m *Metadata) (*Track, error) {
	var re *regexp.Regexp
	switch m.Tag {
	case TagCDROMTrack:
		re = cdTrackRe
	case TagCDROMTrack2:
		re = cdTrack2Re
	case TagGDROMTrack:
		re = gdTrackRe
	default:
		return nil, parseError("tag %q is not a track record", m.Tag)
	}
	f, err := fields(m, re)
	if err != nil {
		return nil, err
	}

	t := &Track{
		Number:        atoi(f["track"]),
		Frames:        atoi(f["frames"]),
		PregapType:    TrackMode1,
		PregapSubcode: SubcodeNone,
	}
	if t.Number > MaxTracks {
		return nil, parseError("track number %d out of range", t.Number)
	}
	var ok bool
	if t.Type, ok = trackTypeNames[f["type"]]; !ok {
		return nil, parseError("unknown track type %q", f["type"])
	}
	if t.Subcode, ok = subcodeNames[f["subtype"]]; !ok {
		return nil, parseError("unknown subcode type %q", f["subtype"])
	}
	if pad, ok := f["pad"]; ok {
		t.PadFrames = atoi(pad)
	}
	if pregap, ok := f["pregap"]; ok {
		t.Pregap = atoi(pregap)
		t.Postgap = atoi(f["postgap"])

		pgType := f["pgtype"]
		if len(pgType) > 1 && pgType[0] == 'V' {
			t.PregapInFile = true
			pgType = pgType[1:]
		}
		if t.PregapType, ok = trackTypeNames[pgType]; !ok {
			return nil, parseError("unknown pregap type %q", f["pgtype"])
		}
		if t.PregapSubcode, ok = subcodeNames[f["pgsub"]]; !ok {
			return nil, parseError("unknown pregap subcode type %q", f["pgsub"])
		}
	}
	padded := (t.Frames + trackPadding - 1) / trackPadding * trackPadding
	t.ExtraFrames = padded - t.Frames
	return t, nil
}

// ParseAV decodes an AVAV or AVLD record.
func ParseAV(m *Metadata) (*AV, error) {
	if m.Tag != TagAV && m.Tag != TagAVLaserDisc {
		return nil, parseError("tag %q is not an A/V record", m.Tag)
	}
	f, err := fields(m, avRe)
	if err != nil {
		return nil, err
	}
	fps, err := strconv.ParseFloat(f["fps"], 64)
	if err != nil {
		return nil, parseError("fps %q: %v", f["fps"], err)
	}
	return &AV{
		FPS:        fps,
		Width:      atoi(f["width"]),
		Height:     atoi(f["height"]),
		Interlaced: f["interlaced"] != "0",
		Channels:   atoi(f["channels"]),
		SampleRate: atoi(f["samplerate"]),
	}, nil
}
