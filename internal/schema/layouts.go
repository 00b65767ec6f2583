package schema

import "github.com/JonMunkholm/laptiming/internal/timing"

// Column names shared by the Al Kamel style reports published by WEC and IMSA.
const (
	ColPosition     = "POSITION"
	ColNumber       = "NUMBER"
	ColTeam         = "TEAM"
	ColClass        = "CLASS"
	ColVehicle      = "VEHICLE"
	ColStatus       = "STATUS"
	ColLaps         = "LAPS"
	ColTyres        = "TYRES"
	ColTires        = "TIRES"
	ColDriverNumber = "DRIVER_NUMBER"
	ColLapNumber    = "LAP_NUMBER"
	ColLapTime      = "LAP_TIME"
	ColS1           = "S1"
	ColS2           = "S2"
	ColS3           = "S3"
	ColKPH          = "KPH"
	ColElapsed      = "ELAPSED"
	ColHour         = "HOUR"
	ColPitIn        = "CROSSING_FINISH_LINE_IN_PIT"
)

// WECResultsFieldSpecs is the FIA WEC classification layout. Drivers are
// DRIVER_1 .. DRIVER_6 with the surname in capitals.
var WECResultsFieldSpecs = []FieldSpec{
	{Name: ColPosition, Aliases: []string{"POS"}, Type: FieldInt, Required: true},
	{Name: ColNumber, Aliases: []string{"NO", "CAR"}, Type: FieldText, Required: true},
	{Name: ColTeam, Type: FieldText, Required: true},
	{Name: "DRIVER_1", Type: FieldText, Required: true},
	{Name: ColVehicle, Aliases: []string{"CAR_MODEL"}, Type: FieldText},
	{Name: ColClass, Type: FieldText, Required: true},
	{Name: ColTyres, Aliases: []string{ColTires}, Type: FieldText},
	{Name: ColStatus, Type: FieldText},
	{Name: ColLaps, Type: FieldInt},
}

// IMSAResultsFieldSpecs is the IMSA classification layout. Drivers are split
// into DRIVERn_FIRSTNAME and DRIVERn_SECONDNAME.
var IMSAResultsFieldSpecs = []FieldSpec{
	{Name: ColPosition, Aliases: []string{"POS"}, Type: FieldInt, Required: true},
	{Name: ColNumber, Aliases: []string{"NO", "CAR"}, Type: FieldText, Required: true},
	{Name: ColTeam, Type: FieldText, Required: true},
	{Name: "DRIVER1_FIRSTNAME", Type: FieldText, Required: true},
	{Name: "DRIVER1_SECONDNAME", Type: FieldText, Required: true},
	{Name: ColVehicle, Aliases: []string{"CAR_MODEL"}, Type: FieldText},
	{Name: ColClass, Type: FieldText, Required: true},
	{Name: ColTires, Aliases: []string{ColTyres}, Type: FieldText},
	{Name: ColStatus, Type: FieldText},
	{Name: ColLaps, Type: FieldInt},
}

// TimecardFieldSpecs is the lap-by-lap analysis layout used by both series.
var TimecardFieldSpecs = []FieldSpec{
	{Name: ColNumber, Aliases: []string{"NO", "CAR"}, Type: FieldText, Required: true},
	{Name: ColDriverNumber, Type: FieldInt, Required: true},
	{Name: ColLapNumber, Type: FieldInt, Required: true},
	{Name: ColLapTime, Type: FieldLapTime, Required: true},
	{Name: ColS1, Type: FieldLapTime},
	{Name: ColS2, Type: FieldLapTime},
	{Name: ColS3, Type: FieldLapTime},
	{Name: ColKPH, Type: FieldDecimal},
	{Name: ColElapsed, Type: FieldLapTime},
	{Name: ColHour, Type: FieldText},
	{Name: ColPitIn, Type: FieldFlag},
}

func init() {
	Register(Layout{
		Importer:    timing.ImporterWEC,
		Kind:        timing.KindResults,
		Label:       "WEC classification",
		Fields:      WECResultsFieldSpecs,
		DriverStyle: DriverSingleColumn,
	})
	Register(Layout{
		Importer:    timing.ImporterIMSA,
		Kind:        timing.KindResults,
		Label:       "IMSA classification",
		Fields:      IMSAResultsFieldSpecs,
		DriverStyle: DriverSplitColumns,
	})
	Register(Layout{
		Importer: timing.ImporterWEC,
		Kind:     timing.KindTimecard,
		Label:    "WEC lap analysis",
		Fields:   TimecardFieldSpecs,
	})
	Register(Layout{
		Importer: timing.ImporterIMSA,
		Kind:     timing.KindTimecard,
		Label:    "IMSA lap analysis",
		Fields:   TimecardFieldSpecs,
	})
}
