package vfs

import "sort"

// FragmentationReport summarises how scattered live file data is
// across the data region.
type FragmentationReport struct {
	FragmentationScore int
	AverageRunsPerFile float64
	FilesAnalyzed      int
	LargestFreeRegion  uint32
}

func countRuns(blocks []uint32) int {
	if len(blocks) == 0 {
		return 0
	}
	sorted := append([]uint32(nil), blocks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	runs := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1]+1 {
			runs++
		}
	}
	return runs
}

// AnalyzeFragmentation walks every live regular file, counts its
// contiguous run count, and aggregates a 0-100 score: 0 when every
// file is one run, 100 when the average file sits in 6 or more
// pieces.
func (fs *FileSystem) AnalyzeFragmentation() (FragmentationReport, error) {
	sb := fs.dev.Superblock()
	totalRuns := 0
	filesSeen := 0
	for i := uint32(0); i < sb.InodeCount; i++ {
		in, err := fs.inodes.Read(i)
		if err != nil {
			return FragmentationReport{}, err
		}
		if in.Type != TypeFile || in.FileSize == 0 {
			continue
		}
		blocks, err := fs.inodes.EnumerateBlocks(in)
		if err != nil {
			return FragmentationReport{}, err
		}
		totalRuns += countRuns(blocks)
		filesSeen++
	}
	report := FragmentationReport{FilesAnalyzed: filesSeen}
	if filesSeen > 0 {
		report.AverageRunsPerFile = float64(totalRuns) / float64(filesSeen)
	}
	raw := (report.AverageRunsPerFile - 1) * 20
	switch {
	case raw < 0:
		raw = 0
	case raw > 100:
		raw = 100
	}
	report.FragmentationScore = int(raw)
	report.LargestFreeRegion = fs.largestFreeRegion()
	return report, nil
}

func (fs *FileSystem) largestFreeRegion() uint32 {
	sb := fs.dev.Superblock()
	var best, run uint32
	for b := sb.DataBlocksStart; b < sb.TotalBlocks; b++ {
		if fs.bitmap.IsFree(b) {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}
