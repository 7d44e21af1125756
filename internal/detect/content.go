package detect

import "feedwatch/internal/model"

// SelectLatest picks the single item evaluated for this poll.
//
// Weibo keeps listing order except that a pinned first entry older than the
// second one yields to the second. Every other provider takes the item with
// the greatest timestamp; ties keep the earlier listing position.
func SelectLatest(p model.Provider, items []model.RawItem) *model.ContentItem {
	if len(items) == 0 {
		return nil
	}
	if p == model.ProviderWeibo {
		if len(items) > 1 && items[0].Pinned && items[0].TimestampUnix < items[1].TimestampUnix {
			return cloneItem(&items[1].ContentItem)
		}
		return cloneItem(&items[0].ContentItem)
	}
	best := 0
	for i := 1; i < len(items); i++ {
		if items[i].TimestampUnix > items[best].TimestampUnix {
			best = i
		}
	}
	return cloneItem(&items[best].ContentItem)
}

// detectContent returns the event (if any), the item to store and whether the
// fetched item was judged stale.
func detectContent(p model.Provider, prev, latest *model.ContentItem) (*model.ChangeEvent, *model.ContentItem, bool) {
	if latest == nil {
		return nil, cloneItem(prev), false
	}
	// First observation initializes the pointer only.
	if prev == nil {
		return nil, cloneItem(latest), false
	}
	if latest.ID == prev.ID {
		return nil, cloneItem(latest), false
	}
	if latest.TimestampUnix <= prev.TimestampUnix {
		// Never move the pointer backward.
		return nil, cloneItem(prev), true
	}
	return &model.ChangeEvent{
		Kind:     model.EventNewContent,
		Provider: p,
		Content:  cloneItem(latest),
	}, cloneItem(latest), false
}
