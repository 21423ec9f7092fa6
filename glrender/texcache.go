package glrender

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/soypat/glpatch/glbuild"
)

type texEntry struct {
	tex      Texture
	version  uint64
	uploaded bool
}

// textureCache maps node-owned logical textures to GPU textures. Entries are
// created on first use and uploaded again only when the image version changes.
type textureCache struct {
	gl      GL
	entries map[glbuild.TextureKey]*texEntry
	black   *image.NRGBA
}

func newTextureCache(gl GL) textureCache {
	black := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	black.Pix[3] = 255
	return textureCache{gl: gl, entries: make(map[glbuild.TextureKey]*texEntry), black: black}
}

func (c *textureCache) entry(key glbuild.TextureKey) (*texEntry, error) {
	e := c.entries[key]
	if e != nil {
		return e, nil
	}
	tex, err := c.gl.NewTexture2D()
	if err != nil {
		return nil, fmt.Errorf("creating texture %v: %w", key, err)
	}
	e = &texEntry{tex: tex}
	c.entries[key] = e
	return e, nil
}

// bind uploads the update's image if its version changed and binds the texture to unit.
func (c *textureCache) bind(unit int, key glbuild.TextureKey, u glbuild.Update) error {
	e, err := c.entry(key)
	if err != nil {
		return err
	}
	if !e.uploaded || e.version != u.Version {
		err = c.gl.UploadTexture(e.tex, c.nrgba(u.Image))
		if err != nil {
			return fmt.Errorf("uploading texture %v: %w", key, err)
		}
		e.version = u.Version
		e.uploaded = true
	}
	c.gl.BindTexture2D(unit, e.tex)
	return nil
}

// bindCached binds the last uploaded texture for key, or black if there is none.
func (c *textureCache) bindCached(unit int, key glbuild.TextureKey) error {
	e, err := c.entry(key)
	if err != nil {
		return err
	}
	if !e.uploaded {
		err = c.gl.UploadTexture(e.tex, c.black)
		if err != nil {
			return err
		}
		e.uploaded = true
	}
	c.gl.BindTexture2D(unit, e.tex)
	return nil
}

func (c *textureCache) nrgba(img image.Image) *image.NRGBA {
	if img == nil || img.Bounds().Empty() {
		return c.black
	}
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}

// removeNode deletes every texture owned by node id.
func (c *textureCache) removeNode(id glbuild.NodeID) (removed int) {
	for key, e := range c.entries {
		if key.Node == id {
			c.gl.DeleteTexture(e.tex)
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// prune deletes every texture whose key is not in keep.
func (c *textureCache) prune(keep map[glbuild.TextureKey]bool) (removed int) {
	for key, e := range c.entries {
		if !keep[key] {
			c.gl.DeleteTexture(e.tex)
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *textureCache) destroy() {
	for key, e := range c.entries {
		c.gl.DeleteTexture(e.tex)
		delete(c.entries, key)
	}
}

func (c *textureCache) len() int { return len(c.entries) }
