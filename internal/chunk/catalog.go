// Package chunk loads the per-chromosome chunk definitions that partition
// each autosome into independently phased regions.
//
// A chunk file holds one region per line. Three line shapes are accepted:
//
//	chr21:15000001-20000000              core region only
//	chr21  15000000  20000000            BED-style, zero-based half-open
//	0  chr21  chr21:14500001-20500000  chr21:15000001-20000000  ...
//
// The last shape is the SHAPEIT chunk layout: the first region column is the
// buffered window used for phasing and the second is the core region that
// tiles the chromosome. Blank lines and lines starting with '#' are ignored.
package chunk

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/phasegrid/internal/faults"
	"github.com/vk/phasegrid/internal/genome"
)

// Chunk is one phasing unit of a chromosome.
type Chunk struct {
	Chrom genome.Chromosome
	// Index is the position of the chunk in start order. It defines ligation
	// and concatenation order.
	Index int
	// Core is the region this chunk contributes to the final output. Cores of
	// one chromosome are disjoint and contiguous.
	Core genome.Region
	// Buffer is the phasing window. It contains Core and may overlap the
	// neighbouring chunks.
	Buffer genome.Region
}

// ID returns the artifact-naming identity of the chunk. It is zero-padded so
// lexical and numeric order agree.
func (c Chunk) ID() string {
	return FormatID(c.Index)
}

// FormatID formats a chunk index the way artifacts are named.
func FormatID(index int) string {
	return fmt.Sprintf("chunk%03d", index)
}

// PathFunc resolves the chunk file for a chromosome.
type PathFunc func(genome.Chromosome) (string, error)

// Catalog loads chunk definitions. It is read-only and safe for concurrent use.
type Catalog struct {
	pathFor PathFunc
	xRegion genome.Region
}

// NewCatalog returns a catalog reading autosome chunk files located by
// pathFor. Chromosome X is never chunked; it is phased as the single region
// xRegion.
func NewCatalog(pathFor PathFunc, xRegion genome.Region) *Catalog {
	return &Catalog{pathFor: pathFor, xRegion: xRegion}
}

// Path returns the chunk file consulted for chrom, or "" for X.
func (c *Catalog) Path(chrom genome.Chromosome) (string, error) {
	if chrom.IsX() {
		return "", nil
	}
	return c.pathFor(chrom)
}

// Load returns the ordered chunks of chrom.
func (c *Catalog) Load(chrom genome.Chromosome) ([]Chunk, error) {
	if chrom.IsX() {
		return []Chunk{{Chrom: chrom, Index: 0, Core: c.xRegion, Buffer: c.xRegion}}, nil
	}
	path, err := c.pathFor(chrom)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.Wrap(faults.ErrFatalPreflight, err, "chunk file for %s", chrom)
	}
	defer f.Close()

	chunks, err := Parse(f, chrom)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return chunks, nil
}

// Parse reads chunk definitions for chrom from r, deduplicates identical
// regions, orders them by start and rejects overlaps and gaps.
func Parse(r io.Reader, chrom genome.Chromosome) ([]Chunk, error) {
	var chunks []Chunk
	seen := make(map[[2]genome.Region]struct{})

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		core, buffer, err := parseLine(line)
		if err != nil {
			return nil, faults.Wrap(faults.ErrMalformedChunkFile, err, "line %d", lineNo)
		}
		if core, buffer, err = normalize(core, buffer, chrom); err != nil {
			return nil, faults.Wrap(faults.ErrMalformedChunkFile, err, "line %d", lineNo)
		}
		key := [2]genome.Region{core, buffer}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		chunks = append(chunks, Chunk{Chrom: chrom, Core: core, Buffer: buffer})
	}
	if err := scanner.Err(); err != nil {
		return nil, faults.Wrap(faults.ErrMalformedChunkFile, err, "reading chunks for %s", chrom)
	}
	if len(chunks) == 0 {
		return nil, faults.New(faults.ErrEmptyChunkSet, "no chunks defined for %s", chrom)
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Core.Start < chunks[j].Core.Start
	})
	for i := range chunks {
		chunks[i].Index = i
		if i == 0 {
			continue
		}
		prev, cur := chunks[i-1].Core, chunks[i].Core
		switch {
		case cur.Overlaps(prev):
			return nil, faults.New(faults.ErrMalformedChunkFile, "chunks %s and %s overlap", prev, cur)
		case cur.Start != prev.End+1:
			return nil, faults.New(faults.ErrMalformedChunkFile, "gap between chunks %s and %s", prev, cur)
		}
	}
	return chunks, nil
}

// normalize rewrites both regions onto the canonical contig name of chrom, so
// "21" and "chr21" rows in one file compare equal.
func normalize(core, buffer genome.Region, chrom genome.Chromosome) (genome.Region, genome.Region, error) {
	for _, r := range []genome.Region{core, buffer} {
		got, err := genome.ChromosomeOf(r.Contig)
		if err != nil || got != chrom {
			return core, buffer, fmt.Errorf("region %s is not on %s", r, chrom)
		}
	}
	core.Contig, buffer.Contig = chrom.Contig(), chrom.Contig()
	if !buffer.Contains(core) {
		return core, buffer, fmt.Errorf("buffered region %s does not contain core region %s", buffer, core)
	}
	return core, buffer, nil
}

func parseLine(line string) (core, buffer genome.Region, err error) {
	fields := strings.Fields(line)

	var regions []genome.Region
	for _, f := range fields {
		if !strings.Contains(f, ":") {
			continue
		}
		r, err := genome.ParseRegion(f)
		if err != nil {
			return core, buffer, err
		}
		regions = append(regions, r)
	}

	switch {
	case len(regions) == 1:
		return regions[0], regions[0], nil
	case len(regions) >= 2:
		return regions[1], regions[0], nil
	case len(fields) >= 3:
		start, errStart := strconv.ParseInt(fields[1], 10, 64)
		end, errEnd := strconv.ParseInt(fields[2], 10, 64)
		if errStart != nil || errEnd != nil {
			return core, buffer, fmt.Errorf("cannot parse %q as contig, start, end", line)
		}
		core, err = genome.NewRegion(fields[0], start+1, end)
		return core, core, err
	default:
		return core, buffer, fmt.Errorf("cannot parse %q as a region", line)
	}
}
