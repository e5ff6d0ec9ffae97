package chd

// hunkCache holds at most one decompressed hunk. Every engine hunk read
// goes through it.
type hunkCache struct {
	handle Handle
	buf    []byte

	// index is meaningful only while valid is set.
	index uint32
	valid bool

	precached bool
}

func (c *hunkCache) holds(index uint32) bool {
	return c.valid && c.index == index
}

// ensure makes the cache hold hunk index. A failed fill leaves the cache
// empty.
func (c *hunkCache) ensure(op string, index uint32) error {
	if c.holds(index) {
		return nil
	}
	if err := c.handle.ReadHunk(index, c.buf); err != nil {
		c.valid = false
		return hunkError(op, index, err)
	}
	c.index = index
	c.valid = true
	return nil
}

// readFull copies hunk index into dst. A cached hunk is copied without an
// engine call; any other hunk is decompressed straight into dst and the
// cache is left as it was.
func (c *hunkCache) readFull(op string, index uint32, dst []byte) error {
	if c.holds(index) {
		copy(dst, c.buf)
		return nil
	}
	if err := c.handle.ReadHunk(index, dst); err != nil {
		return hunkError(op, index, err)
	}
	return nil
}

func (c *hunkCache) precache(op string) error {
	if err := c.handle.Precache(); err != nil {
		return translate(op, err)
	}
	c.precached = true
	return nil
}

func (c *hunkCache) reset() {
	c.handle = nil
	c.buf = nil
	c.valid = false
	c.index = 0
	c.precached = false
}

func hunkError(op string, index uint32, err error) error {
	terr := translate(op, err)
	if e, ok := terr.(*Error); ok {
		e.Index = int64(index)
	}
	return terr
}
