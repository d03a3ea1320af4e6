package services

type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

func newPagination(page, size int, total int64) Pagination {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 1
	}
	return Pagination{Page: page, PageSize: size, Total: total}
}

func (p Pagination) Offset() int {
	return p.Page * p.PageSize
}

func (p Pagination) HasPrev() bool {
	return p.Page > 0
}

func (p Pagination) HasNext() bool {
	return int64((p.Page+1)*p.PageSize) < p.Total
}

func (p Pagination) Pages() int {
	if p.Total == 0 {
		return 0
	}
	return int((p.Total + int64(p.PageSize) - 1) / int64(p.PageSize))
}
