package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"sente/pkg/selfplay"
)

// Summarizes a parquet file of self-play game records: results,
// termination reasons, and game-length distribution.
func main() {
	parquetPath := flag.String("parquet", "", "input parquet file")
	binSize := flag.Int("bin-size", 50, "game-length bin size")
	verify := flag.Bool("verify", false, "replay every record and check the final position")
	flag.Parse()

	if *parquetPath == "" {
		fatal(fmt.Errorf("-parquet is required"))
	}
	if *binSize <= 0 {
		fatal(fmt.Errorf("bin-size must be > 0"))
	}

	records, err := selfplay.ReadRecords(*parquetPath, 4)
	if err != nil {
		fatal(err)
	}

	results := make(map[string]int)
	reasons := make(map[string]int)
	bins := make(map[int]int)
	var totalPlies, minPlies, maxPlies int
	failed := 0
	for i, rec := range records {
		results[rec.Result]++
		reasons[rec.WinReason]++
		plies := int(rec.MoveCount)
		totalPlies += plies
		if i == 0 || plies < minPlies {
			minPlies = plies
		}
		if plies > maxPlies {
			maxPlies = plies
		}
		bins[(plies / *binSize) * *binSize]++
		if *verify {
			if _, err := selfplay.ReplayRecord(rec); err != nil {
				fmt.Fprintf(os.Stderr, "corrupt record: %v\n", err)
				failed++
			}
		}
	}

	fmt.Printf("input parquet: %s\n", *parquetPath)
	fmt.Printf("games: %d\n", len(records))
	if *verify {
		fmt.Printf("failed replays: %d\n", failed)
	}
	if len(records) == 0 {
		return
	}
	fmt.Printf("results: sente=%d gote=%d draw=%d\n", results["sente"], results["gote"], results["draw"])
	fmt.Printf("plies: min=%d mean=%.1f max=%d\n", minPlies, float64(totalPlies)/float64(len(records)), maxPlies)
	fmt.Println("termination reasons:")
	for _, reason := range sortedKeys(reasons) {
		fmt.Printf("  %s,%d\n", reason, reasons[reason])
	}
	fmt.Printf("length distribution (bin size=%d):\n", *binSize)
	starts := make([]int, 0, len(bins))
	for start := range bins {
		starts = append(starts, start)
	}
	sort.Ints(starts)
	for _, start := range starts {
		fmt.Printf("%d-%d,%d\n", start, start+*binSize-1, bins[start])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
