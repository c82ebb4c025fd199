package selfplay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"sente/pkg/shogi"
)

// GameRecord is the persisted form of one self-play game.
type GameRecord struct {
	GameID    string `parquet:"name=game_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Epoch     int32  `parquet:"name=epoch, type=INT32"`
	Result    string `parquet:"name=result, type=BYTE_ARRAY, convertedtype=UTF8"`
	WinReason string `parquet:"name=win_reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	MoveCount int32  `parquet:"name=move_count, type=INT32"`
	Moves     string `parquet:"name=moves, type=BYTE_ARRAY, convertedtype=UTF8"`
	FinalSFEN string `parquet:"name=final_sfen, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// RecordFromEpisode flattens an episode into its persisted form.
// Moves are space-separated USI.
func RecordFromEpisode(ep *Episode, epoch int) GameRecord {
	result := "draw"
	switch {
	case ep.Winner == nil:
	case *ep.Winner == shogi.Black:
		result = "sente"
	default:
		result = "gote"
	}
	usi := make([]string, len(ep.Moves))
	for i, m := range ep.Moves {
		usi[i] = m.USI()
	}
	return GameRecord{
		GameID:    ep.ID,
		Epoch:     int32(epoch),
		Result:    result,
		WinReason: ep.Reason.String(),
		MoveCount: int32(len(ep.Moves)),
		Moves:     strings.Join(usi, " "),
		FinalSFEN: ep.FinalSFEN,
	}
}

// WriteRecords drains records into a snappy-compressed parquet file.
func WriteRecords(path string, records <-chan GameRecord, parallel int64) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	fileWriter, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	defer fileWriter.Close()

	parquetWriter, err := writer.NewParquetWriter(fileWriter, new(GameRecord), parallel)
	if err != nil {
		return err
	}
	parquetWriter.CompressionType = parquet.CompressionCodec_SNAPPY

	for record := range records {
		if err := parquetWriter.Write(record); err != nil {
			return err
		}
	}
	if err := parquetWriter.WriteStop(); err != nil {
		return err
	}
	return fileWriter.Close()
}

// ReadRecords loads every game record from a parquet file.
func ReadRecords(path string, parallel int64) ([]GameRecord, error) {
	fileReader, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fileReader.Close()

	parquetReader, err := reader.NewParquetReader(fileReader, new(GameRecord), parallel)
	if err != nil {
		return nil, err
	}
	defer parquetReader.ReadStop()

	n := int(parquetReader.GetNumRows())
	records := make([]GameRecord, n)
	if err := parquetReader.Read(&records); err != nil {
		return nil, err
	}
	return records, nil
}

// ReplayRecord rebuilds the final position from a record's move list
// and checks it against the stored SFEN.
func ReplayRecord(rec GameRecord) (*shogi.Position, error) {
	p, err := shogi.InitialPosition()
	if err != nil {
		return nil, err
	}
	p.SetMoveLimit(0)
	if rec.Moves != "" {
		for i, usi := range strings.Fields(rec.Moves) {
			m, err := shogi.ParseUSIMove(usi)
			if err != nil {
				return nil, fmt.Errorf("game %s move %d: %w", rec.GameID, i+1, err)
			}
			if err := p.Apply(m); err != nil {
				return nil, fmt.Errorf("game %s move %d (%s): %w", rec.GameID, i+1, usi, err)
			}
		}
	}
	if rec.FinalSFEN != "" && p.SFEN() != rec.FinalSFEN {
		return nil, fmt.Errorf("game %s: replay ends at %s, record says %s", rec.GameID, p.SFEN(), rec.FinalSFEN)
	}
	return p, nil
}

// SaveKIF writes an episode as a KIF file under dir, named by game ID.
func SaveKIF(dir string, ep *Episode) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p, err := shogi.InitialPosition()
	if err != nil {
		return "", err
	}
	p.SetMoveLimit(0)
	for _, m := range ep.Moves {
		if err := p.Apply(m); err != nil {
			return "", fmt.Errorf("episode %s: replay %s: %w", ep.ID, m, err)
		}
	}
	path := filepath.Join(dir, ep.ID+".kif")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	headers := shogi.KIFHeaders{SenteName: "selfplay", GoteName: "selfplay"}
	if err := shogi.WriteKIF(f, p, headers); err != nil {
		return "", err
	}
	return path, f.Close()
}
