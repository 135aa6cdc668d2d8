package packet

// ContentType enumerates the source artifact kinds Nancy accepts.
// The set is closed; unknown values fail validation.
type ContentType string

const (
	ContentTypeDocument     ContentType = "document"
	ContentTypeSpreadsheet  ContentType = "spreadsheet"
	ContentTypeCodebase     ContentType = "codebase"
	ContentTypeEmail        ContentType = "email"
	ContentTypeChat         ContentType = "chat"
	ContentTypeAPIDocs      ContentType = "api_docs"
	ContentTypePresentation ContentType = "presentation"
	ContentTypeImage        ContentType = "image"
	ContentTypeVideo        ContentType = "video"
	ContentTypeAudio        ContentType = "audio"
	ContentTypeDatabase     ContentType = "database"
	ContentTypeCustom       ContentType = "custom"
)

var validContentTypes = map[ContentType]struct{}{
	ContentTypeDocument: {}, ContentTypeSpreadsheet: {}, ContentTypeCodebase: {},
	ContentTypeEmail: {}, ContentTypeChat: {}, ContentTypeAPIDocs: {},
	ContentTypePresentation: {}, ContentTypeImage: {}, ContentTypeVideo: {},
	ContentTypeAudio: {}, ContentTypeDatabase: {}, ContentTypeCustom: {},
}

// Valid reports whether the content type is a member of the closed set.
func (c ContentType) Valid() bool {
	_, ok := validContentTypes[c]
	return ok
}

// Classification enumerates document sensitivity levels.
type Classification string

const (
	ClassificationPublic       Classification = "public"
	ClassificationInternal     Classification = "internal"
	ClassificationConfidential Classification = "confidential"
	ClassificationRestricted   Classification = "restricted"
)

// Valid reports whether the classification is a member of the closed set.
// The empty value is allowed (classification is optional).
func (c Classification) Valid() bool {
	switch c {
	case "", ClassificationPublic, ClassificationInternal,
		ClassificationConfidential, ClassificationRestricted:
		return true
	}
	return false
}

// EntityType enumerates the node kinds of the property graph.
type EntityType string

const (
	EntityPerson           EntityType = "Person"
	EntityDocument         EntityType = "Document"
	EntityTechnicalConcept EntityType = "TechnicalConcept"
	EntitySystem           EntityType = "System"
	EntityComponent        EntityType = "Component"
	EntityDecision         EntityType = "Decision"
	EntityMeeting          EntityType = "Meeting"
	EntityProject          EntityType = "Project"
	EntityTeam             EntityType = "Team"
	EntityRole             EntityType = "Role"
	EntityProcess          EntityType = "Process"
	EntityConstraint       EntityType = "Constraint"
	EntityRisk             EntityType = "Risk"
	EntityAction           EntityType = "Action"
)

var validEntityTypes = map[EntityType]struct{}{
	EntityPerson: {}, EntityDocument: {}, EntityTechnicalConcept: {},
	EntitySystem: {}, EntityComponent: {}, EntityDecision: {},
	EntityMeeting: {}, EntityProject: {}, EntityTeam: {}, EntityRole: {},
	EntityProcess: {}, EntityConstraint: {}, EntityRisk: {}, EntityAction: {},
}

// Valid reports whether the entity type is a member of the closed set.
func (e EntityType) Valid() bool {
	_, ok := validEntityTypes[e]
	return ok
}

// RelationType enumerates the edge kinds of the property graph.
// The set is closed; there is deliberately no escape hatch for
// producer-defined relationship names.
type RelationType string

const (
	RelHasExpertise   RelationType = "HAS_EXPERTISE"
	RelHasRole        RelationType = "HAS_ROLE"
	RelMemberOf       RelationType = "MEMBER_OF"
	RelMade           RelationType = "MADE"
	RelAttended       RelationType = "ATTENDED"
	RelPartOf         RelationType = "PART_OF"
	RelInterfacesWith RelationType = "INTERFACES_WITH"
	RelConstrainedBy  RelationType = "CONSTRAINED_BY"
	RelAffects        RelationType = "AFFECTS"
	RelValidatedBy    RelationType = "VALIDATED_BY"
	RelProduced       RelationType = "PRODUCED"
	RelMitigatedBy    RelationType = "MITIGATED_BY"
	RelResultedIn     RelationType = "RESULTED_IN"
	RelAuthored       RelationType = "AUTHORED"
	RelMentions       RelationType = "MENTIONS"
	RelReferences     RelationType = "REFERENCES"
	RelDiscusses      RelationType = "DISCUSSES"
	RelDependsOn      RelationType = "DEPENDS_ON"
)

var validRelationTypes = map[RelationType]struct{}{
	RelHasExpertise: {}, RelHasRole: {}, RelMemberOf: {}, RelMade: {},
	RelAttended: {}, RelPartOf: {}, RelInterfacesWith: {}, RelConstrainedBy: {},
	RelAffects: {}, RelValidatedBy: {}, RelProduced: {}, RelMitigatedBy: {},
	RelResultedIn: {}, RelAuthored: {}, RelMentions: {}, RelReferences: {},
	RelDiscusses: {}, RelDependsOn: {},
}

// Valid reports whether the relation type is a member of the closed set.
func (r RelationType) Valid() bool {
	_, ok := validRelationTypes[r]
	return ok
}

// PriorityBrain enumerates producer routing preferences.
type PriorityBrain string

const (
	PriorityVector     PriorityBrain = "vector"
	PriorityAnalytical PriorityBrain = "analytical"
	PriorityGraph      PriorityBrain = "graph"
	PriorityAuto       PriorityBrain = "auto"
)

// Valid reports whether the priority brain is a member of the closed set.
// The empty value is allowed (hints are optional).
func (p PriorityBrain) Valid() bool {
	switch p {
	case "", PriorityVector, PriorityAnalytical, PriorityGraph, PriorityAuto:
		return true
	}
	return false
}
