package flash

import (
	"fmt"
	"os"
	"sync"
)

// File is a Device persisted in an image file. A new image is created erased.
type File struct {
	mu        sync.Mutex
	f         *os.File
	numBlocks int
	protected bool
}

var _ Device = (*File)(nil)

// OpenFile opens or creates a flash image of numBlocks blocks.
func OpenFile(path string, numBlocks int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat flash image %s: %w", path, err)
	}

	size := int64(numBlocks) * BlockSize
	if info.Size() < size {
		// Extend with erased blocks
		erased := make([]byte, BlockSize)
		for i := range erased {
			erased[i] = 0xFF
		}
		for off := info.Size() - info.Size()%BlockSize; off < size; off += BlockSize {
			if _, err := f.WriteAt(erased, off); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to initialize flash image %s: %w", path, err)
			}
		}
	}

	return &File{f: f, numBlocks: numBlocks, protected: true}, nil
}

// Close closes the image file.
func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// NumBlocks returns the number of blocks in the image.
func (d *File) NumBlocks() int {
	return d.numBlocks
}

// ReadBlock copies one block into buf.
func (d *File) ReadBlock(block uint16, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := checkBlock(int(block), 1, d.numBlocks, buf); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(buf, int64(block)*BlockSize); err != nil {
		return fmt.Errorf("failed to read flash block %d: %w", block, err)
	}
	return nil
}

// WriteBlock programs one block. Bits can only be cleared.
func (d *File) WriteBlock(block uint16, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.protected {
		return ErrWriteProtected
	}
	if err := checkBlock(int(block), 1, d.numBlocks, data); err != nil {
		return err
	}

	cur := make([]byte, BlockSize)
	off := int64(block) * BlockSize
	if _, err := d.f.ReadAt(cur, off); err != nil {
		return fmt.Errorf("failed to read flash block %d: %w", block, err)
	}
	for i := range cur {
		cur[i] &= data[i]
	}
	if _, err := d.f.WriteAt(cur, off); err != nil {
		return fmt.Errorf("failed to write flash block %d: %w", block, err)
	}
	return nil
}

// Erase sets count blocks starting at block back to 0xFF.
func (d *File) Erase(block uint16, count uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.protected {
		return ErrWriteProtected
	}
	if err := checkBlock(int(block), int(count), d.numBlocks, nil); err != nil {
		return err
	}

	erased := make([]byte, int(count)*BlockSize)
	for i := range erased {
		erased[i] = 0xFF
	}
	if _, err := d.f.WriteAt(erased, int64(block)*BlockSize); err != nil {
		return fmt.Errorf("failed to erase flash blocks %d+%d: %w", block, count, err)
	}
	return nil
}

// SetWriteProtect enables or disables write protection.
func (d *File) SetWriteProtect(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.protected = enabled
	return nil
}
