package journal

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argenta/argenta-backend/internal/events"
)

func sampleEvents() []events.Event {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	at := time.Unix(1_700_000_000, 0).UTC()
	return []events.Event{
		{Seq: 1, Kind: events.KindPositionOpened, Time: at, Payload: events.PositionOpened{PositionID: 1, Owner: owner}},
		{Seq: 2, Kind: events.KindDebtMinted, Time: at, Payload: events.DebtMinted{
			PositionID: 1,
			Owner:      owner,
			Amount:     uint256.NewInt(1000),
			Principal:  uint256.NewInt(1000),
			TotalDebt:  uint256.NewInt(1000),
		}},
		{Seq: 3, Kind: events.KindPositionClosed, Time: at, Payload: events.PositionClosed{PositionID: 1, Owner: owner}},
	}
}

func TestJournalAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, j.Handle(context.Background(), sampleEvents()))
	assert.Equal(t, uint64(3), j.CurrentIndex())

	recs, err := j.After(1, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].Seq)
	assert.Equal(t, events.KindDebtMinted, recs[0].Kind)

	evt, err := events.Decode(recs[0])
	require.NoError(t, err)
	minted := evt.Payload.(*events.DebtMinted)
	assert.Equal(t, uint64(1000), minted.Amount.Uint64())

	recs, err = j.After(0, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(1), recs[0].Seq)

	last, err := j.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
	require.NoError(t, j.Close())

	reopened, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	last, err = reopened.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
}

func TestJournalSkipsRotatedOutEntries(t *testing.T) {
	j, err := Open(Config{Dir: t.TempDir(), SegmentThreshold: 2, MaxSegments: 2})
	require.NoError(t, err)
	defer j.Close()

	owner := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	var evts []events.Event
	for seq := uint64(1); seq <= 9; seq++ {
		evts = append(evts, events.Event{
			Seq:     seq,
			Kind:    events.KindPositionOpened,
			Time:    time.Unix(1_700_000_000, 0).UTC(),
			Payload: events.PositionOpened{PositionID: seq, Owner: owner},
		})
	}
	require.NoError(t, j.Handle(context.Background(), evts))

	recs, err := j.After(0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Less(t, len(recs), len(evts))
	assert.Equal(t, uint64(9), recs[len(recs)-1].Seq)
	for i := 1; i < len(recs); i++ {
		assert.Equal(t, recs[i-1].Seq+1, recs[i].Seq)
	}

	last, err := j.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), last)
}

func TestJournalEmpty(t *testing.T) {
	j, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer j.Close()

	recs, err := j.After(0, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)

	last, err := j.LastSeq()
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestNilJournal(t *testing.T) {
	var j *Journal
	assert.Error(t, j.Append(events.Event{}))
	assert.Zero(t, j.CurrentIndex())
	assert.Error(t, j.Close())
}
