package database

// KeyKind records which primitive type a key holds so mixed-type access fails like Redis does.
type KeyKind struct {
	Key  string `gorm:"column:kv_key;primaryKey;size:512;not null"`
	Kind string `gorm:"column:kind;size:16;not null"`
}

// TableName provides the explicit table binding for GORM.
func (KeyKind) TableName() string {
	return "kv_keys"
}

// Counter stores an atomic integer counter.
type Counter struct {
	Key   string `gorm:"column:kv_key;primaryKey;size:512;not null"`
	Value int64  `gorm:"column:value;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Counter) TableName() string {
	return "kv_counters"
}

// HashField stores one field of a hash.
type HashField struct {
	Key   string `gorm:"column:kv_key;primaryKey;size:512;not null"`
	Field string `gorm:"column:field;primaryKey;size:512;not null"`
	Value string `gorm:"column:value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (HashField) TableName() string {
	return "kv_hash_fields"
}

// SetMember stores one member of a set.
type SetMember struct {
	Key    string `gorm:"column:kv_key;primaryKey;size:512;not null"`
	Member string `gorm:"column:member;primaryKey;size:512;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SetMember) TableName() string {
	return "kv_set_members"
}

// ListItem stores one list element. Higher ItemID means closer to the head.
type ListItem struct {
	ItemID int64  `gorm:"column:item_id;primaryKey;autoIncrement"`
	Key    string `gorm:"column:kv_key;size:512;not null;index:idx_kv_list_items_key_item,priority:1"`
	Value  string `gorm:"column:value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ListItem) TableName() string {
	return "kv_list_items"
}

func allModels() []interface{} {
	return []interface{}{&KeyKind{}, &Counter{}, &HashField{}, &SetMember{}, &ListItem{}, &migrationRecord{}}
}
