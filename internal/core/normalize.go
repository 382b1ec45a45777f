package core

// RunningState carries what the normalizer needs from earlier rows of one stream.
// It is owned by a single Normalizer and starts at zero.
type RunningState struct {
	RowNo    int64
	PrevTime float64
	PrevAmps float64
	Capacity float64
}

// Normalizer turns raw driver rows into rows of the required columns,
// synthesizing the ones the file does not supply. Not safe for concurrent use;
// each stream gets its own.
type Normalizer struct {
	required []string
	meta     Metadata
	state    RunningState
}

// NewNormalizer prepares a normalizer for one stream.
func NewNormalizer(required []string, meta Metadata) *Normalizer {
	return &Normalizer{
		required: append([]string(nil), required...),
		meta:     meta,
	}
}

// State returns a copy of the running state.
func (n *Normalizer) State() RunningState {
	return n.state
}

// Normalize produces the next output row. Rows must arrive in file order.
func (n *Normalizer) Normalize(raw RawRow) (Row, error) {
	n.state.RowNo++
	out := make(Row, len(n.required))

	for i, col := range n.required {
		if v, ok := raw[col]; ok {
			out[i] = v
			continue
		}
		v, err := n.synthesize(col, raw)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (n *Normalizer) synthesize(col string, raw RawRow) (any, error) {
	switch col {
	case ColSampleNo:
		return n.state.RowNo, nil

	case ColExperimentID:
		if v, ok := n.meta[MetaExperimentID]; ok {
			return v, nil
		}

	case ColTemperature:
		return nil, nil

	case ColCapacity:
		amps, err := n.float(raw, ColAmps)
		if err != nil {
			return nil, err
		}
		t, err := n.float(raw, ColTestTime)
		if err != nil {
			return nil, err
		}
		if n.state.RowNo > 1 && t < n.state.PrevTime {
			return nil, &OutOfOrderError{Row: n.state.RowNo, Prev: n.state.PrevTime, Observed: t}
		}
		n.state.Capacity += (n.state.PrevAmps + amps) / 2 * (t - n.state.PrevTime)
		n.state.PrevAmps = amps
		n.state.PrevTime = t
		return n.state.Capacity, nil

	case ColPower:
		volts, err := n.float(raw, ColVolts)
		if err != nil {
			return nil, err
		}
		amps, err := n.float(raw, ColAmps)
		if err != nil {
			return nil, err
		}
		return volts * amps, nil
	}
	return nil, &MissingInputError{Column: col, Row: n.state.RowNo}
}

func (n *Normalizer) float(raw RawRow, col string) (float64, error) {
	v, ok := raw[col]
	if !ok || v == nil {
		return 0, &MissingInputError{Column: col, Row: n.state.RowNo}
	}
	f, err := ToFloat(v)
	if err != nil {
		return 0, &ParseError{Line: int(n.state.RowNo), Column: col, Err: err}
	}
	return f, nil
}

// NormalizeRows wraps a raw row stream with a fresh Normalizer.
// Closing the result closes raw.
func NormalizeRows(required []string, meta Metadata, raw RawRows) Rows {
	return &normalizedRows{
		raw:     raw,
		norm:    NewNormalizer(required, meta),
		columns: append([]string(nil), required...),
	}
}

type normalizedRows struct {
	raw     RawRows
	norm    *Normalizer
	columns []string
	row     Row
	err     error
	done    bool
}

func (r *normalizedRows) Next() bool {
	if r.done {
		return false
	}
	if !r.raw.Next() {
		r.err = r.raw.Err()
		r.finish()
		return false
	}
	row, err := r.norm.Normalize(r.raw.Row())
	if err != nil {
		r.err = err
		r.finish()
		return false
	}
	r.row = row
	return true
}

// finish releases the driver handle as soon as the stream ends.
func (r *normalizedRows) finish() {
	r.done = true
	r.row = nil
	if cerr := r.raw.Close(); cerr != nil && r.err == nil {
		r.err = cerr
	}
}

func (r *normalizedRows) Row() Row          { return r.row }
func (r *normalizedRows) Err() error        { return r.err }
func (r *normalizedRows) Columns() []string { return r.columns }

func (r *normalizedRows) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	r.row = nil
	return r.raw.Close()
}
