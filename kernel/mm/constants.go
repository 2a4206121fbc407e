package mm

const (
	// PageShift is the number of address bits covered by a page.
	PageShift = 12

	// PageSize is the size of a page in bytes.
	PageSize = 1 << PageShift

	// PageLevels is the depth of the page table radix tree.
	PageLevels = 3

	// PageLevelBits is the number of virtual page number bits consumed by
	// each page table level.
	PageLevelBits = 9

	// EntriesPerTable is the number of entries stored in one page table node.
	EntriesPerTable = 1 << PageLevelBits

	// EntrySize is the size of an encoded page table entry in bytes.
	EntrySize = 8

	// MaxUserPage is the first virtual page number past the user address
	// space (27 translated bits: 3 levels x 9 bits).
	MaxUserPage = Page(1) << (PageLevels * PageLevelBits)
)

const (
	// TrapContextPage is the fixed page at the top of each user address
	// space that holds the task's saved trap context.
	TrapContextPage = MaxUserPage - 1

	// UserStackPages is the number of pages backing a user stack.
	UserStackPages = 2

	// UserStackTopPage is the page just past the user stack; the stack
	// occupies the pages directly below the trap context page.
	UserStackTopPage = TrapContextPage

	// KernelStackPages is the number of pages backing a per-task kernel
	// stack.
	KernelStackPages = 2

	// KernelStackTopPage is the page just past the highest kernel stack.
	// Kernel stacks are carved downwards from here, each followed by an
	// unmapped guard page.
	KernelStackTopPage = Page(1) << (PageLevels * PageLevelBits)
)
