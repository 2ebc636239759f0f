package pagination

import (
	"github.com/hatlonely/relstore/errs"
	"github.com/hatlonely/relstore/query"
)

// Options 调用方没有给出分页参数时使用的默认值
type Options struct {
	PageNo   int `cfg:"pageNo" def:"1" env:"PAGE_NO" validate:"gte=1"`
	PageSize int `cfg:"pageSize" def:"20" env:"PAGE_SIZE" validate:"gte=1,lte=1000"`
}

// Resolve 用默认值补全未设置（<= 0）的参数
func (o Options) Resolve(pageSize, pageNo int) (int, int) {
	if pageSize <= 0 {
		pageSize = o.PageSize
	}
	if pageNo <= 0 {
		pageNo = o.PageNo
	}
	return pageSize, pageNo
}

// Metadata 分页元信息，TotalCount 是去重后的根实体数量
type Metadata struct {
	PageNo       int   `json:"pageNo"`
	PageSize     int   `json:"pageSize"`
	TotalCount   int64 `json:"totalCount"`
	TotalPages   int64 `json:"totalPages"`
	CurrentCount int   `json:"currentCount"`
}

// PagePlan 第一阶段的结果，Limit/Offset 作用于根实体
type PagePlan struct {
	PageNo     int
	PageSize   int
	TotalCount int64
	TotalPages int64
	Limit      int
	Offset     int
}

// Params 分页参数，Count 为查询分页之前 GetCount 的结果
type Params struct {
	PageSize int
	PageNo   int
	Count    int64
}

// PlanPage 校验分页参数并计算根实体的 limit/offset
//
// pageNo 超出 totalPages 时不报错，Offset 被截断到 count，查询返回空页
func PlanPage(count int64, pageSize int, pageNo int) (PagePlan, error) {
	if pageSize <= 0 {
		return PagePlan{}, errs.Validation("pageSize", "must be greater than 0, got %d", pageSize)
	}
	if pageNo < 1 {
		return PagePlan{}, errs.Validation("pageNo", "must be greater than or equal to 1, got %d", pageNo)
	}
	if count < 0 {
		return PagePlan{}, errs.Validation("count", "must not be negative, got %d", count)
	}

	size := int64(pageSize)
	totalPages := (count + size - 1) / size

	offset := count
	if int64(pageNo-1) < totalPages {
		offset = int64(pageNo-1) * size
	}

	return PagePlan{
		PageNo:     pageNo,
		PageSize:   pageSize,
		TotalCount: count,
		TotalPages: totalPages,
		Limit:      pageSize,
		Offset:     int(offset),
	}, nil
}

// Beyond 当前页在数据范围之外，不需要再查询
func (p PagePlan) Beyond() bool {
	return int64(p.PageNo) > p.TotalPages
}

// Apply 把分页应用到查询的根实体上
func (p PagePlan) Apply(b query.Builder) query.Builder {
	return b.Paginate(p.Limit, p.Offset)
}

// FinalizeMeta 第二阶段，根据实际返回的根实体数量生成元信息
func FinalizeMeta(plan PagePlan, returned int) Metadata {
	return Metadata{
		PageNo:       plan.PageNo,
		PageSize:     plan.PageSize,
		TotalCount:   plan.TotalCount,
		TotalPages:   plan.TotalPages,
		CurrentCount: returned,
	}
}

// DeferredJoinPagination 返回应用了分页的查询和生成元信息的函数
func DeferredJoinPagination(b query.Builder, params Params) (query.Builder, func(returned int) Metadata, error) {
	plan, err := PlanPage(params.Count, params.PageSize, params.PageNo)
	if err != nil {
		return b, nil, err
	}
	return plan.Apply(b), func(returned int) Metadata {
		return FinalizeMeta(plan, returned)
	}, nil
}
