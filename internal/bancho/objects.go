package bancho

// -------------------------------------------------------------------------
// Message
// -------------------------------------------------------------------------

// Message is the chat message object: three tagged strings followed by
// the sender's i32 user id.
type Message struct {
	Sender   string
	Content  string
	Target   string
	SenderID int32
}

// -------------------------------------------------------------------------
// UserStats / UserPresence
// -------------------------------------------------------------------------

// UserStats is the payload of a BANCHO_USER_STATS packet, in wire order.
// Accuracy is the 0..1 fraction; it is written as an f32.
type UserStats struct {
	UserID      int32
	Action      uint8
	Info        string
	BeatmapMD5  string
	Mods        int32
	Mode        uint8
	BeatmapID   int32
	RankedScore int64
	Accuracy    float32
	PlayCount   int32
	TotalScore  int64
	Rank        int32
	PP          int16
}

// UserPresence is the payload of a BANCHO_USER_PRESENCE packet, in wire
// order. UTCOffset is the raw offset in hours; the codec biases it by
// +24 on the wire. PrivilegesByte packs the client-side privilege bits
// and play mode.
type UserPresence struct {
	UserID         int32
	Username       string
	UTCOffset      int8
	CountryCode    uint8
	PrivilegesByte uint8
	Longitude      float32
	Latitude       float32
	Rank           int32
}

// utcOffsetBias shifts the signed UTC offset into the unsigned wire byte.
const utcOffsetBias = 24

// -------------------------------------------------------------------------
// ScoreFrame
// -------------------------------------------------------------------------

// ScoreFrame is the in-play score snapshot relayed between a player and
// their spectators. Fixed-order concatenation of primitives; the two
// f64 portions are present only when ScoreV2 is set.
type ScoreFrame struct {
	Time         int32
	ID           uint8
	Count300     uint16
	Count100     uint16
	Count50      uint16
	CountGeki    uint16
	CountKatu    uint16
	CountMiss    uint16
	TotalScore   int32
	MaxCombo     uint16
	CurrentCombo uint16
	Perfect      bool
	CurrentHP    uint8
	TagByte      uint8
	ScoreV2      bool
	ComboPortion float64
	BonusPortion float64
}

// AppendScoreFrame appends the frame's wire encoding to dst.
func AppendScoreFrame(dst []byte, f ScoreFrame) []byte {
	dst = AppendInt32(dst, f.Time)
	dst = append(dst, f.ID)
	dst = AppendUint16(dst, f.Count300)
	dst = AppendUint16(dst, f.Count100)
	dst = AppendUint16(dst, f.Count50)
	dst = AppendUint16(dst, f.CountGeki)
	dst = AppendUint16(dst, f.CountKatu)
	dst = AppendUint16(dst, f.CountMiss)
	dst = AppendInt32(dst, f.TotalScore)
	dst = AppendUint16(dst, f.MaxCombo)
	dst = AppendUint16(dst, f.CurrentCombo)
	dst = AppendBool(dst, f.Perfect)
	dst = append(dst, f.CurrentHP, f.TagByte)
	dst = AppendBool(dst, f.ScoreV2)
	if f.ScoreV2 {
		dst = AppendFloat64(dst, f.ComboPortion)
		dst = AppendFloat64(dst, f.BonusPortion)
	}
	return dst
}

// ReadScoreFrame decodes a ScoreFrame from the reader.
func (r *PayloadReader) ReadScoreFrame() (ScoreFrame, error) {
	var f ScoreFrame
	var err error
	if f.Time, err = r.ReadInt32(); err != nil {
		return f, err
	}
	if f.ID, err = r.ReadUint8(); err != nil {
		return f, err
	}
	if f.Count300, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.Count100, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.Count50, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.CountGeki, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.CountKatu, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.CountMiss, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.TotalScore, err = r.ReadInt32(); err != nil {
		return f, err
	}
	if f.MaxCombo, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.CurrentCombo, err = r.ReadUint16(); err != nil {
		return f, err
	}
	if f.Perfect, err = r.ReadBool(); err != nil {
		return f, err
	}
	if f.CurrentHP, err = r.ReadUint8(); err != nil {
		return f, err
	}
	if f.TagByte, err = r.ReadUint8(); err != nil {
		return f, err
	}
	if f.ScoreV2, err = r.ReadBool(); err != nil {
		return f, err
	}
	if f.ScoreV2 {
		if f.ComboPortion, err = r.ReadFloat64(); err != nil {
			return f, err
		}
		if f.BonusPortion, err = r.ReadFloat64(); err != nil {
			return f, err
		}
	}
	return f, nil
}

// -------------------------------------------------------------------------
// MatchData
// -------------------------------------------------------------------------

// MatchSlots is the fixed slot count of a multiplayer match.
const MatchSlots = 16

// Slot status bits.
const (
	SlotStatusOpen     uint8 = 1
	SlotStatusLocked   uint8 = 2
	SlotStatusNotReady uint8 = 4
	SlotStatusReady    uint8 = 8
	SlotStatusNoMap    uint8 = 16
	SlotStatusPlaying  uint8 = 32
	SlotStatusComplete uint8 = 64
	SlotStatusQuit     uint8 = 128

	// slotStatusHasPlayer masks the statuses that carry a player id on
	// the wire.
	slotStatusHasPlayer = SlotStatusNotReady | SlotStatusReady |
		SlotStatusNoMap | SlotStatusPlaying | SlotStatusComplete
)

// MatchData is the multiplayer match description exchanged in lobby and
// match packets. Field order is fixed; the password always occupies at
// least the single empty-string byte so the frame length stays
// deterministic. Per-slot mods are present only when FreeMods is set,
// and a slot's player id only when its status has a player.
type MatchData struct {
	MatchID      uint16
	InProgress   bool
	MatchType    uint8
	Mods         int32
	Name         string
	Password     string
	BeatmapName  string
	BeatmapID    int32
	BeatmapMD5   string
	SlotStatuses [MatchSlots]uint8
	SlotTeams    [MatchSlots]uint8
	SlotPlayers  [MatchSlots]int32
	HostID       int32
	Mode         uint8
	WinCondition uint8
	TeamType     uint8
	FreeMods     bool
	SlotMods     [MatchSlots]int32
	Seed         int32
}

// AppendMatchData appends the match's wire encoding to dst.
func AppendMatchData(dst []byte, m MatchData) []byte {
	dst = AppendUint16(dst, m.MatchID)
	dst = AppendBool(dst, m.InProgress)
	dst = append(dst, m.MatchType)
	dst = AppendInt32(dst, m.Mods)
	dst = AppendString(dst, m.Name)
	dst = AppendString(dst, m.Password)
	dst = AppendString(dst, m.BeatmapName)
	dst = AppendInt32(dst, m.BeatmapID)
	dst = AppendString(dst, m.BeatmapMD5)
	for _, s := range m.SlotStatuses {
		dst = append(dst, s)
	}
	for _, t := range m.SlotTeams {
		dst = append(dst, t)
	}
	for i, s := range m.SlotStatuses {
		if s&slotStatusHasPlayer != 0 {
			dst = AppendInt32(dst, m.SlotPlayers[i])
		}
	}
	dst = AppendInt32(dst, m.HostID)
	dst = append(dst, m.Mode, m.WinCondition, m.TeamType)
	dst = AppendBool(dst, m.FreeMods)
	if m.FreeMods {
		for _, mods := range m.SlotMods {
			dst = AppendInt32(dst, mods)
		}
	}
	return AppendInt32(dst, m.Seed)
}

// ReadMatchData decodes a MatchData from the reader.
func (r *PayloadReader) ReadMatchData() (MatchData, error) {
	var m MatchData
	var err error
	if m.MatchID, err = r.ReadUint16(); err != nil {
		return m, err
	}
	if m.InProgress, err = r.ReadBool(); err != nil {
		return m, err
	}
	if m.MatchType, err = r.ReadUint8(); err != nil {
		return m, err
	}
	if m.Mods, err = r.ReadInt32(); err != nil {
		return m, err
	}
	if m.Name, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Password, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.BeatmapName, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.BeatmapID, err = r.ReadInt32(); err != nil {
		return m, err
	}
	if m.BeatmapMD5, err = r.ReadString(); err != nil {
		return m, err
	}
	for i := range m.SlotStatuses {
		if m.SlotStatuses[i], err = r.ReadUint8(); err != nil {
			return m, err
		}
	}
	for i := range m.SlotTeams {
		if m.SlotTeams[i], err = r.ReadUint8(); err != nil {
			return m, err
		}
	}
	for i, s := range m.SlotStatuses {
		if s&slotStatusHasPlayer != 0 {
			if m.SlotPlayers[i], err = r.ReadInt32(); err != nil {
				return m, err
			}
		}
	}
	if m.HostID, err = r.ReadInt32(); err != nil {
		return m, err
	}
	if m.Mode, err = r.ReadUint8(); err != nil {
		return m, err
	}
	if m.WinCondition, err = r.ReadUint8(); err != nil {
		return m, err
	}
	if m.TeamType, err = r.ReadUint8(); err != nil {
		return m, err
	}
	if m.FreeMods, err = r.ReadBool(); err != nil {
		return m, err
	}
	if m.FreeMods {
		for i := range m.SlotMods {
			if m.SlotMods[i], err = r.ReadInt32(); err != nil {
				return m, err
			}
		}
	}
	if m.Seed, err = r.ReadInt32(); err != nil {
		return m, err
	}
	return m, nil
}
