package parser

// builtInFields are platform fields every incident carries. Playbooks that
// set them do not depend on any content item.
var builtInFields = map[string]struct{}{
	"name":                {},
	"details":             {},
	"severity":            {},
	"owner":               {},
	"type":                {},
	"category":            {},
	"labels":              {},
	"phase":               {},
	"occurred":            {},
	"reason":              {},
	"sla":                 {},
	"reminder":            {},
	"closeNotes":          {},
	"closeReason":         {},
	"closingUserId":       {},
	"parent":              {},
	"playbookId":          {},
	"dbotCreatedBy":       {},
	"dbotSource":          {},
	"dbotStatus":          {},
	"dbotCreated":         {},
	"dbotClosed":          {},
	"dbotModified":        {},
	"dbotDueDate":         {},
	"dbotMirrorDirection": {},
	"dbotMirrorId":        {},
	"dbotMirrorInstance":  {},
	"dbotMirrorTags":      {},
	"dbotMirrorLastSync":  {},
	"id":                  {},
	"created":             {},
	"modified":            {},
	"status":              {},
	"customFields":        {},
	"addLabels":           {},
	"deleteEmptyField":    {},
	"emailclassification": {},
}

// listCommands read or write a List item named by the listName argument.
var listCommands = map[string]struct{}{
	"Builtin|||setList":        {},
	"Builtin|||getList":        {},
	"Builtin|||addToList":      {},
	"Builtin|||removeFromList": {},
	"Builtin|||createList":     {},
}

// specialBuiltins are platform commands that are handled on their own or
// have no backing content item.
var specialBuiltins = map[string]struct{}{
	"setIncident":                   {},
	"setIndicator":                  {},
	"setList":                       {},
	"getList":                       {},
	"addToList":                     {},
	"removeFromList":                {},
	"createList":                    {},
	"closeInvestigation":            {},
	"createNewIncident":             {},
	"investigate":                   {},
	"setPlaybook":                   {},
	"setPlaybookAccordingToType":    {},
	"getIncidents":                  {},
	"getIndicators":                 {},
	"createNewIndicator":            {},
	"deleteIndicators":              {},
	"associateIndicatorsToIncident": {},
	"linkIncidents":                 {},
	"setOwner":                      {},
	"setSeverity":                   {},
	"setType":                       {},
	"taskComplete":                  {},
	"addEntitlement":                {},
}

func isBuiltInField(name string) bool {
	_, ok := builtInFields[name]
	return ok
}
