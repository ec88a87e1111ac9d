package engine

import "slices"

// Resolve splits hard-link aliases out of list. An entry whose inode has
// more than one link becomes the representative of a new group the first
// time its inode is seen; later entries with the same inode join that group
// as aliases until it holds nlink-1 of them, after which the next one starts
// a fresh group. Directories, symlinks and entries reached through a symlink
// are never grouped. list itself is left untouched.
func Resolve(list EntryList) Resolved {
	res := Resolved{Primary: make(EntryList, 0, len(list))}
	open := make(map[DevIno]*LinkGroup)

	for _, e := range list {
		if !groupable(e) {
			res.Primary = append(res.Primary, e)
			continue
		}
		key := e.Key()
		g, ok := open[key]
		if ok && uint64(len(g.Aliases)) < e.Stat.Nlink-1 {
			g.Aliases = append(g.Aliases, e)
			continue
		}
		g = &LinkGroup{Rep: e}
		open[key] = g
		res.Groups = append(res.Groups, g)
		res.Primary = append(res.Primary, e)
	}
	res.Groups = slices.DeleteFunc(res.Groups, func(g *LinkGroup) bool {
		return len(g.Aliases) == 0
	})
	return res
}

func groupable(e *Entry) bool {
	return e.Stat.Nlink > 1 &&
		!e.Stat.IsDir() &&
		!e.Stat.IsSymlink() &&
		!e.ViaSymlink
}
