package core

// Standard column names of the normalized schema.
const (
	ColExperimentID = "experiment_id"
	ColSampleNo     = "sample_no"
	ColTestTime     = "test_time"
	ColVolts        = "volts"
	ColAmps         = "amps"
	ColCapacity     = "capacity"
	ColPower        = "power"
	ColTemperature  = "temperature"
	ColEnergy       = "energy"
	ColCycleNo      = "cycle_no"
	ColStepNo       = "step_no"
	ColStepTime     = "step_time"
	ColState        = "state"
)

// StandardColumns lists every standard column in canonical order.
var StandardColumns = []string{
	ColExperimentID,
	ColSampleNo,
	ColTestTime,
	ColVolts,
	ColAmps,
	ColCapacity,
	ColPower,
	ColTemperature,
	ColEnergy,
	ColCycleNo,
	ColStepNo,
	ColStepTime,
	ColState,
}

// synthesisDeps lists, for each column the normalizer can synthesize, the
// columns it must read from the file to do so.
var synthesisDeps = map[string][]string{
	ColSampleNo:     nil,
	ColExperimentID: nil,
	ColTemperature:  nil,
	ColCapacity:     {ColAmps, ColTestTime},
	ColPower:        {ColVolts, ColAmps},
}

// IsStandardColumn reports whether name is part of the normalized schema.
func IsStandardColumn(name string) bool {
	for _, c := range StandardColumns {
		if c == name {
			return true
		}
	}
	return false
}

// CanSynthesize reports whether the normalizer knows how to compute col.
func CanSynthesize(col string) bool {
	_, ok := synthesisDeps[col]
	return ok
}

// SynthesisDependencies returns the columns needed to compute col.
func SynthesisDependencies(col string) []string {
	return append([]string(nil), synthesisDeps[col]...)
}
