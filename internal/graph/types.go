// Package graph implements the typed property graph layered over the
// storage adapter: nouns are entities, verbs are directed, typed edges
// between them, and both carry their own vector representation for the
// shared HNSW index.
package graph

import (
	"time"

	"github.com/google/uuid"
)

// NounType enumerates the entity kinds a Noun can carry. The set below
// is a representative subset of the full domain taxonomy; adding a
// member only requires a new constant and String() case.
type NounType int

const (
	NounUnknown NounType = iota
	NounPerson
	NounDocument
	NounLocation
	NounConcept
	NounOrganization
	NounEvent
	NounProduct
	NounTask
	NounMessage
	NounProject
	NounAsset
	NounTag
	NounCategory
	NounSession
	NounDevice
	NounAccount
	NounSkill
	NounTopic
	NounFile
	nounTypeCount
)

// NounTypeCount bounds the fixed-width per-type counters in internal/stats.
const NounTypeCount = int(nounTypeCount)

func (t NounType) String() string {
	switch t {
	case NounPerson:
		return "Person"
	case NounDocument:
		return "Document"
	case NounLocation:
		return "Location"
	case NounConcept:
		return "Concept"
	case NounOrganization:
		return "Organization"
	case NounEvent:
		return "Event"
	case NounProduct:
		return "Product"
	case NounTask:
		return "Task"
	case NounMessage:
		return "Message"
	case NounProject:
		return "Project"
	case NounAsset:
		return "Asset"
	case NounTag:
		return "Tag"
	case NounCategory:
		return "Category"
	case NounSession:
		return "Session"
	case NounDevice:
		return "Device"
	case NounAccount:
		return "Account"
	case NounSkill:
		return "Skill"
	case NounTopic:
		return "Topic"
	case NounFile:
		return "File"
	default:
		return "Unknown"
	}
}

// ParseNounType maps a persisted type string back to its NounType,
// defaulting to NounUnknown for anything unrecognized rather than
// erroring, since storage records must always round-trip.
func ParseNounType(s string) NounType {
	for t := NounUnknown; t < nounTypeCount; t++ {
		if t.String() == s {
			return t
		}
	}
	return NounUnknown
}

// VerbType enumerates the relation kinds a Verb can carry; again a
// representative subset of the full taxonomy.
type VerbType int

const (
	VerbUnknown VerbType = iota
	VerbRelatedTo
	VerbCreates
	VerbContains
	VerbOwns
	VerbMentions
	VerbFollows
	VerbLikes
	VerbAssignedTo
	VerbPartOf
	VerbDependsOn
	VerbReferences
	VerbAuthoredBy
	VerbLocatedIn
	VerbMemberOf
	VerbTriggers
	VerbResolves
	VerbSupersedes
	VerbDerivedFrom
	VerbTaggedWith
	VerbCommunicatesWith
	verbTypeCount
)

// VerbTypeCount bounds the fixed-width per-type counters in internal/stats.
const VerbTypeCount = int(verbTypeCount)

func (t VerbType) String() string {
	switch t {
	case VerbRelatedTo:
		return "RelatedTo"
	case VerbCreates:
		return "Creates"
	case VerbContains:
		return "Contains"
	case VerbOwns:
		return "Owns"
	case VerbMentions:
		return "Mentions"
	case VerbFollows:
		return "Follows"
	case VerbLikes:
		return "Likes"
	case VerbAssignedTo:
		return "AssignedTo"
	case VerbPartOf:
		return "PartOf"
	case VerbDependsOn:
		return "DependsOn"
	case VerbReferences:
		return "References"
	case VerbAuthoredBy:
		return "AuthoredBy"
	case VerbLocatedIn:
		return "LocatedIn"
	case VerbMemberOf:
		return "MemberOf"
	case VerbTriggers:
		return "Triggers"
	case VerbResolves:
		return "Resolves"
	case VerbSupersedes:
		return "Supersedes"
	case VerbDerivedFrom:
		return "DerivedFrom"
	case VerbTaggedWith:
		return "TaggedWith"
	case VerbCommunicatesWith:
		return "CommunicatesWith"
	default:
		return "Unknown"
	}
}

// ParseVerbType mirrors ParseNounType for verbs.
func ParseVerbType(s string) VerbType {
	for t := VerbUnknown; t < verbTypeCount; t++ {
		if t.String() == s {
			return t
		}
	}
	return VerbUnknown
}

// Noun is an entity: its indexed core is ID/Vector, everything else is
// sidecar metadata persisted alongside it.
type Noun struct {
	ID         uuid.UUID
	Type       NounType
	Vector     []float32
	Confidence float32
	Weight     float32
	Service    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Metadata   map[string]interface{}
}

// Verb is a directed, typed edge. SourceID/TargetID/Type are required
// first-class fields a traversal reads without a second fetch — they
// are never folded into Metadata.
type Verb struct {
	ID         uuid.UUID
	SourceID   uuid.UUID
	TargetID   uuid.UUID
	Type       VerbType
	Vector     []float32
	Weight     float32
	Confidence float32
	Service    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Metadata   map[string]interface{}
}

// Direction filters GetRelations by which endpoint startID must occupy.
type Direction int

const (
	DirOut Direction = iota
	DirIn
	DirBoth
)

// CascadePolicy governs what DeleteNoun does to its incident verbs.
type CascadePolicy int

const (
	// CascadeDelete removes every verb touching the deleted noun.
	CascadeDelete CascadePolicy = iota
	// CascadeOrphan leaves incident verbs in place with a dangling endpoint.
	CascadeOrphan
	// CascadeDeny refuses the delete while any incident verb exists.
	CascadeDeny
)

// Pagination bounds a Find/GetRelations/ListNouns-shaped call.
type Pagination struct {
	Cursor string
	Limit  int
}

// Page is one page of nouns or verbs with a cursor for the next page.
type Page struct {
	Nouns      []*Noun
	Verbs      []*Verb
	NextCursor string
}

// TraverseHop is one noun reached by Traverse, paired with the ordered
// chain of verb ids a caller would need to walk from the start noun to
// reach it.
type TraverseHop struct {
	Noun *Noun
	Path []uuid.UUID
}
