package threads

import "time"

// TranscriptMessage is one human-facing message of a thread.
type TranscriptMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// TranscriptPage is one page of a thread's transcript, oldest first.
type TranscriptPage struct {
	Items      []TranscriptMessage `json:"items"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
	TotalCount int64               `json:"totalCount"`
	TotalPages int                 `json:"totalPages"`
}

// Transcript pages over the user and assistant turns that carry text.
// Tool traffic and system turns never appear. Sort fields in in are ignored.
func Transcript(turns []Turn, in ListInput, maxPageSize int) (TranscriptPage, error) {
	in.SortBy, in.SortOrder = "", ""
	in, err := in.Normalize(maxPageSize)
	if err != nil {
		return TranscriptPage{}, err
	}

	visible := make([]TranscriptMessage, 0, len(turns))
	for _, t := range turns {
		if !t.Role.Visible() || t.Content.Text == "" {
			continue
		}
		visible = append(visible, TranscriptMessage{
			ID:        t.ID,
			Role:      t.Role,
			Content:   t.Content.Text,
			CreatedAt: t.CreatedAt,
		})
	}

	total := int64(len(visible))
	page := TranscriptPage{
		Items:      []TranscriptMessage{},
		Page:       in.Page,
		PageSize:   in.PageSize,
		TotalCount: total,
		TotalPages: totalPages(total, in.PageSize),
	}
	if off := in.Offset(); off < len(visible) {
		end := min(off+in.PageSize, len(visible))
		page.Items = visible[off:end]
	}
	return page, nil
}
