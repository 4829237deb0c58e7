package domain

// ProgressEvent reports completion of one archive day to an external
// observer. Progress is the fraction of the whole job in [0, 1]. A nil
// *ProgressEvent on the channel is the completion sentinel.
type ProgressEvent struct {
	Symbol   string
	Date     string // The calendar day just completed, DateLayout format
	Progress float64
}
