package models

// All returns every model managed by AutoMigrate, shared between the
// production migration and test databases.
func All() []interface{} {
	return []interface{}{
		&SendingAccount{},
		&Campaign{},
		&EmailSequence{},
		&SequenceVariant{},
		&LeadList{},
		&Lead{},
		&EmailEvent{},
		&ProcessedReply{},
		&Unsubscribe{},
	}
}
