// Package doclist maintains the document-name table: docid n is line n
// of the doc_list file in the index directory.
package doclist

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Filename is the name of the companion file inside the index
// directory.
const Filename = "doc_list"

// DocList is an in-memory docid → name table with save/restore against
// the index directory.
type DocList struct {
	dir   string
	names []string
}

// New creates an empty table bound to an index directory.
func New(dir string) *DocList {
	return &DocList{dir: dir}
}

// Add appends a name and returns its docid.
func (d *DocList) Add(name string) uint32 {
	id := uint32(len(d.names))
	d.names = append(d.names, name)
	return id
}

// Get returns the name of a docid.
func (d *DocList) Get(id uint32) (string, error) {
	if int(id) >= len(d.names) {
		return "", errors.Newf("doclist: doc id %d out of range (%d docs)", id, len(d.names))
	}
	return d.names[id], nil
}

// Len returns the number of documents.
func (d *DocList) Len() int { return len(d.names) }

// Save writes one name per line.
func (d *DocList) Save() (err error) {
	f, err := os.Create(d.filename())
	if err != nil {
		return errors.Wrap(err, "doclist: save")
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	for _, name := range d.names {
		if _, err := w.WriteString(name); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Restore replaces the table with the file's contents.
func (d *DocList) Restore() error {
	f, err := os.Open(d.filename())
	if err != nil {
		return errors.Wrap(err, "doclist: restore")
	}
	defer f.Close()
	d.names = d.names[:0]
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		d.names = append(d.names, sc.Text())
	}
	return sc.Err()
}

// Clear drops all names.
func (d *DocList) Clear() {
	d.names = d.names[:0]
}

func (d *DocList) filename() string {
	return filepath.Join(d.dir, Filename)
}
