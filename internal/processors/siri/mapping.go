package siri

import "strings"

// cause maps the SIRI reason of a situation onto the GTFS-RT cause names
// used by the canonical alert model.
func cause(s ptSituationElement) string {
	switch {
	case s.PersonnelReason != "":
		switch strings.ToLower(s.PersonnelReason) {
		case "industrialaction", "strike", "staffabsence", "stafftoolate", "unofficialindustrialaction":
			return "STRIKE"
		}
		return "OTHER_CAUSE"
	case s.EquipmentReason != "":
		switch strings.ToLower(s.EquipmentReason) {
		case "maintenancework", "routinemaintenance", "emergencyengineeringwork":
			return "MAINTENANCE"
		case "constructionwork", "roadworks":
			return "CONSTRUCTION"
		}
		return "TECHNICAL_PROBLEM"
	case s.EnvironmentReason != "":
		return "WEATHER"
	case s.MiscellaneousReason != "":
		switch strings.ToLower(s.MiscellaneousReason) {
		case "accident", "collision", "derailment", "personundertrain", "levelcrossingaccident":
			return "ACCIDENT"
		case "demonstration", "march", "procession":
			return "DEMONSTRATION"
		case "holiday":
			return "HOLIDAY"
		case "policeactivity", "policerequest", "policeorder", "securityalert":
			return "POLICE_ACTIVITY"
		case "illvehicleoccupants", "medicalemergency", "passengerillness":
			return "MEDICAL_EMERGENCY"
		case "undefinedproblem", "unknown":
			return "UNKNOWN_CAUSE"
		}
		return "OTHER_CAUSE"
	}
	return ""
}

// effect maps a SIRI consequence condition onto a GTFS-RT effect name.
func effect(condition string) string {
	switch strings.ToLower(condition) {
	case "":
		return ""
	case "noservice", "cancelled", "stopcancelled", "tripcancellation":
		return "NO_SERVICE"
	case "reducedservice", "limitedoperation":
		return "REDUCED_SERVICE"
	case "delayed", "severedelays", "disrupted", "longdelays":
		return "SIGNIFICANT_DELAYS"
	case "diverted", "diversion", "routediversion":
		return "DETOUR"
	case "additionalservice", "extraservice":
		return "ADDITIONAL_SERVICE"
	case "altered", "changeofplatform", "modifiedservice":
		return "MODIFIED_SERVICE"
	case "stopmoved":
		return "STOP_MOVED"
	case "normalservice", "noimpact":
		return "NO_EFFECT"
	case "unknown", "undefinedstatus":
		return "UNKNOWN_EFFECT"
	}
	return "OTHER_EFFECT"
}
